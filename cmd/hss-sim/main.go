// Sh HSS simulator. Answers User-Data, Profile-Update and
// Subscribe-Notifications requests with canned subscriber data so the bridge
// can be exercised without a real HSS.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/fiorix/go-diameter/v4/diam"
	"github.com/fiorix/go-diameter/v4/diam/avp"
	"github.com/fiorix/go-diameter/v4/diam/datatype"
	"github.com/fiorix/go-diameter/v4/diam/sm"

	"github.com/openims/shbridge/pkg/diameter"
)

const (
	cmdUserData               = 306
	cmdProfileUpdate          = 307
	cmdSubscribeNotifications = 308
)

const defaultUserData = `<Sh-Data>
  <Sh-IMS-Data>
    <S-CSCFName>sip:scscf.ims.example.org</S-CSCFName>
    <CallForwardActive>1</CallForwardActive>
    <CallForwardUnconditional>tel:+33411223344</CallForwardUnconditional>
  </Sh-IMS-Data>
  <PublicIdentifiers>
    <MSISDN>3342012860</MSISDN>
    <IMSPublicIdentity>sip:3342012860@ims.example.org</IMSPublicIdentity>
  </PublicIdentifiers>
  <IMSPrivateUserIdentity>3342012860@ims.example.org</IMSPrivateUserIdentity>
</Sh-Data>
`

func main() {
	addr := flag.String("addr", "0.0.0.0:3868", "address in the form of ip:port to listen on")
	host := flag.String("diam_host", "hss.example.org", "diameter identity host")
	realm := flag.String("diam_realm", "example.org", "diameter identity realm")
	networkType := flag.String("network_type", "tcp", "protocol type tcp/sctp")
	userDataFile := flag.String("user_data_file", "", "file with the Sh-Data XML to serve (optional)")
	flag.Parse()

	userData := defaultUserData
	if *userDataFile != "" {
		raw, err := os.ReadFile(*userDataFile)
		if err != nil {
			log.Fatal(err)
		}
		userData = string(raw)
	}

	settings := &sm.Settings{
		OriginHost:       datatype.DiameterIdentity(*host),
		OriginRealm:      datatype.DiameterIdentity(*realm),
		VendorID:         diameter.Vendor3GPP,
		ProductName:      "hss-sim",
		FirmwareRevision: 1,
	}

	mux := sm.New(settings)
	mux.HandleIdx(
		diam.CommandIndex{AppID: diameter.ShApplicationID, Code: cmdUserData, Request: true},
		handleUDR(*settings, userData))
	mux.HandleIdx(
		diam.CommandIndex{AppID: diameter.ShApplicationID, Code: cmdProfileUpdate, Request: true},
		handleShRequest(*settings, "PUR"))
	mux.HandleIdx(
		diam.CommandIndex{AppID: diameter.ShApplicationID, Code: cmdSubscribeNotifications, Request: true},
		handleShRequest(*settings, "SNR"))
	mux.HandleIdx(diam.ALL_CMD_INDEX, diam.HandlerFunc(handleALL))

	go printErrors(mux.ErrorReports())

	log.Println("starting hss simulator on", *addr)
	err := diam.ListenAndServeNetwork(*networkType, *addr, mux, nil)
	if err != nil {
		log.Fatal(err)
	}
}

type shRequest struct {
	SessionID datatype.UTF8String `avp:"Session-Id"`
}

// answer builds the common UDA/PUA/SNA envelope. Session-Id must stay the
// AVP in position 1.
func answer(settings sm.Settings, m *diam.Message, sid datatype.UTF8String) *diam.Message {
	a := m.Answer(diam.Success)
	a.InsertAVP(diam.NewAVP(avp.SessionID, avp.Mbit, 0, sid))
	a.NewAVP(avp.VendorSpecificApplicationID, avp.Mbit, 0, &diam.GroupedAVP{
		AVP: []*diam.AVP{
			diam.NewAVP(avp.AuthApplicationID, avp.Mbit, 0, datatype.Unsigned32(diameter.ShApplicationID)),
			diam.NewAVP(avp.VendorID, avp.Mbit, 0, datatype.Unsigned32(diameter.Vendor3GPP)),
		},
	})
	a.NewAVP(avp.OriginHost, avp.Mbit, 0, settings.OriginHost)
	a.NewAVP(avp.OriginRealm, avp.Mbit, 0, settings.OriginRealm)
	return a
}

func handleUDR(settings sm.Settings, userData string) diam.HandlerFunc {
	return func(c diam.Conn, m *diam.Message) {
		var req shRequest
		if err := m.Unmarshal(&req); err != nil {
			log.Printf("invalid UDR: %s", err)
			return
		}
		a := answer(settings, m, req.SessionID)
		a.NewAVP("Sh-User-Data", avp.Mbit|avp.Vbit, diameter.Vendor3GPP, datatype.OctetString(userData))
		if _, err := a.WriteTo(c); err != nil {
			log.Printf("failed to send UDA: %s", err)
		}
	}
}

func handleShRequest(settings sm.Settings, name string) diam.HandlerFunc {
	return func(c diam.Conn, m *diam.Message) {
		var req shRequest
		if err := m.Unmarshal(&req); err != nil {
			log.Printf("invalid %s: %s", name, err)
			return
		}
		a := answer(settings, m, req.SessionID)
		if _, err := a.WriteTo(c); err != nil {
			log.Printf("failed to answer %s: %s", name, err)
		}
	}
}

func printErrors(ec <-chan *diam.ErrorReport) {
	for err := range ec {
		log.Println(err)
	}
}

func handleALL(c diam.Conn, m *diam.Message) {
	log.Printf("received unexpected message from %s:\n%s", c.RemoteAddr(), m)
}
