// Package bridge dispatches call-control events to the Diameter Sh session
// and injects the resulting profile data back into the call.
package bridge

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/pkg/errors"

	"github.com/openims/shbridge/pkg/diameter"
	"github.com/openims/shbridge/pkg/monitoring"
	"github.com/openims/shbridge/pkg/shdata"
)

// Operations recognized on inbound events. Matching is exact and
// case-sensitive; anything else is logged and ignored.
const (
	OpUserData               = "sendUDRRequest"
	OpProfileUpdate          = "sendPURRequest"
	OpSubscribeNotifications = "sendSNRRequest"
)

// CallEvent is one inbound call-control event. Arguments are positional:
// the first is always the subscriber identity, the optional second is the
// data reference (UDR), the repository-data XML (PUR) or the subs-req-type
// (SNR).
type CallEvent struct {
	CorrelationID string
	Operation     string
	Arguments     []string
}

// CallController is the call-session surface of the control plane. Both the
// FreeSWITCH and the Asterisk adapters implement it.
type CallController interface {
	SetVariable(ctx context.Context, correlationID, name, value string) error
	Resume(ctx context.Context, correlationID string) error
}

// ProfileSession is the Diameter Sh surface the dispatcher needs.
type ProfileSession interface {
	UserData(ctx context.Context, q diameter.ProfileQuery) (*diameter.UserDataAnswer, error)
	ProfileUpdate(ctx context.Context, q diameter.ProfileQuery, repositoryDataXML string) (map[string]interface{}, error)
	SubscribeNotifications(ctx context.Context, q diameter.ProfileQuery, subsReqType int) (map[string]interface{}, error)
}

type Dispatcher struct {
	session ProfileSession
	calls   CallController
	log     *slog.Logger
}

func New(session ProfileSession, calls CallController, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{session: session, calls: calls, log: log}
}

// Run consumes events until the channel closes or ctx is canceled. Each
// event is handled on its own goroutine; a failure in one never touches the
// others or the shared session.
func (d *Dispatcher) Run(ctx context.Context, events <-chan CallEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			go d.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent runs one event through its lifecycle. The call session is
// never failed by a profile-query error: errors abort this event and leave
// the call to the platform's default handling.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev CallEvent) {
	log := d.log.With(
		slog.String("correlation_id", ev.CorrelationID),
		slog.String("operation", ev.Operation))

	if ev.Operation == "" {
		return
	}
	if len(ev.Arguments) == 0 || ev.Arguments[0] == "" {
		log.Warn("event without subscriber identity")
		monitoring.EventsTotal.WithLabelValues(ev.Operation, "aborted").Inc()
		return
	}

	var err error
	switch ev.Operation {
	case OpUserData:
		err = d.handleUserData(ctx, log, ev)
	case OpProfileUpdate:
		err = d.handleProfileUpdate(ctx, log, ev)
	case OpSubscribeNotifications:
		err = d.handleSubscribeNotifications(ctx, log, ev)
	default:
		log.Warn("unrecognized operation")
		monitoring.EventsTotal.WithLabelValues("unknown", "ignored").Inc()
		return
	}
	if err != nil {
		log.Error("event aborted", slog.String("error", err.Error()))
		monitoring.EventsTotal.WithLabelValues(ev.Operation, "aborted").Inc()
		return
	}
	monitoring.EventsTotal.WithLabelValues(ev.Operation, "completed").Inc()
}

func (d *Dispatcher) handleUserData(ctx context.Context, log *slog.Logger, ev CallEvent) error {
	q := diameter.ProfileQuery{IdentityValue: ev.Arguments[0]}
	if len(ev.Arguments) > 1 {
		ref, err := strconv.Atoi(ev.Arguments[1])
		if err != nil {
			return errors.WithMessage(err, "bad data reference argument")
		}
		q.DataReference = ref
	}

	uda, err := d.session.UserData(ctx, q)
	if err != nil {
		return errors.WithMessage(err, "user data query")
	}

	doc, err := shdata.Parse(uda.UserData)
	if err != nil {
		return err
	}
	d.inject(ctx, log, ev.CorrelationID, shdata.Flatten(doc))
	return d.resume(ctx, log, ev.CorrelationID)
}

// inject writes every profile field in the fixed order. Writes are
// best-effort: a failed variable is logged and the rest still go in.
func (d *Dispatcher) inject(ctx context.Context, log *slog.Logger, correlationID string, rec shdata.Record) {
	for _, v := range rec {
		if err := d.calls.SetVariable(ctx, correlationID, v.Name, v.Value); err != nil {
			monitoring.VariableWriteFailures.Inc()
			log.Warn("failed to set variable",
				slog.String("variable", v.Name),
				slog.String("error", err.Error()))
		}
	}
	log.Info("profile data injected", slog.Int("variables", len(rec)))
}

func (d *Dispatcher) resume(ctx context.Context, log *slog.Logger, correlationID string) error {
	if err := d.calls.Resume(ctx, correlationID); err != nil {
		return errors.WithMessage(err, "resume call")
	}
	return nil
}

func (d *Dispatcher) handleProfileUpdate(ctx context.Context, log *slog.Logger, ev CallEvent) error {
	if len(ev.Arguments) < 2 || ev.Arguments[1] == "" {
		return errors.New("profile update without repository data")
	}
	q := diameter.ProfileQuery{IdentityValue: ev.Arguments[0]}
	if _, err := d.session.ProfileUpdate(ctx, q, ev.Arguments[1]); err != nil {
		return errors.WithMessage(err, "profile update")
	}
	return d.resume(ctx, log, ev.CorrelationID)
}

func (d *Dispatcher) handleSubscribeNotifications(ctx context.Context, log *slog.Logger, ev CallEvent) error {
	q := diameter.ProfileQuery{
		IdentityValue: ev.Arguments[0],
		DataReference: diameter.DataRefIMSUserState,
	}
	subsReqType := diameter.SubsReqSubscribe
	if len(ev.Arguments) > 1 {
		v, err := strconv.Atoi(ev.Arguments[1])
		if err != nil {
			return errors.WithMessage(err, "bad subs-req-type argument")
		}
		subsReqType = v
	}
	if _, err := d.session.SubscribeNotifications(ctx, q, subsReqType); err != nil {
		return errors.WithMessage(err, "subscribe notifications")
	}
	return d.resume(ctx, log, ev.CorrelationID)
}
