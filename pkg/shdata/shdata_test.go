package shdata

import (
	"errors"
	"testing"
)

const fullDocument = `<Sh-Data xmlns="urn:3gpp:ns:Sh-Data">
  <Sh-IMS-Data>
    <S-CSCFName>sip:scscf.example.org</S-CSCFName>
    <CallForwardActive>1</CallForwardActive>
    <CallForwardBusy>tel:+33411223344</CallForwardBusy>
    <InboundCommunicationBarred>0</InboundCommunicationBarred>
  </Sh-IMS-Data>
  <Extension>
    <EPSLocationInformation>
      <MMEName>mme01.epc.example.org</MMEName>
    </EPSLocationInformation>
  </Extension>
  <PublicIdentifiers>
    <MSISDN>3342012860</MSISDN>
    <IMSPublicIdentity>sip:3342012860@ims.example.org</IMSPublicIdentity>
  </PublicIdentifiers>
  <IMSPrivateUserIdentity>3342012860@ims.example.org</IMSPrivateUserIdentity>
</Sh-Data>`

func TestFlattenFullDocument(t *testing.T) {
	doc, err := Parse(fullDocument)
	if err != nil {
		t.Fatal(err)
	}
	rec := Flatten(doc)

	want := map[string]string{
		"SERVING_MME":      "mme01.epc.example.org",
		"MSISDN":           "3342012860",
		"SCSCF":            "sip:scscf.example.org",
		"CF_ACTIVE":        "1",
		"CF_BUSY":          "tel:+33411223344",
		"INBOUND_BARRED":   "0",
		"IMS_PUBLICIDENT":  "sip:3342012860@ims.example.org",
		"IMS_PRIVATEIDENT": "3342012860@ims.example.org",
		// fields absent from the document
		"CF_UNCONDITIONAL": "",
		"CF_NOREG":         "",
		"CF_NOANSWER":      "",
		"CF_NOTREACHABLE":  "",
		"CF_NOREPLYTIMER":  "",
		"OUTBOUND_BARRED":  "",
	}
	if len(rec) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(rec))
	}
	for name, value := range want {
		if got := rec.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
}

func TestFlattenMinimalDocument(t *testing.T) {
	doc, err := Parse(`<Sh-Data><PublicIdentifiers><MSISDN>3342012860</MSISDN></PublicIdentifiers></Sh-Data>`)
	if err != nil {
		t.Fatal(err)
	}
	rec := Flatten(doc)
	if got := rec.Get("MSISDN"); got != "3342012860" {
		t.Errorf("MSISDN = %q", got)
	}
	for _, v := range rec {
		if v.Name != "MSISDN" && v.Value != "" {
			t.Errorf("%s = %q, want empty", v.Name, v.Value)
		}
	}
}

func TestFlattenOrderIsFixed(t *testing.T) {
	doc, err := Parse(`<Sh-Data/>`)
	if err != nil {
		t.Fatal(err)
	}
	rec := Flatten(doc)
	order := []string{
		"SERVING_MME", "MSISDN", "SCSCF",
		"CF_ACTIVE", "CF_UNCONDITIONAL", "CF_NOREG", "CF_BUSY",
		"CF_NOANSWER", "CF_NOTREACHABLE", "CF_NOREPLYTIMER",
		"INBOUND_BARRED", "OUTBOUND_BARRED",
		"IMS_PUBLICIDENT", "IMS_PRIVATEIDENT",
	}
	if len(rec) != len(order) {
		t.Fatalf("expected %d fields, got %d", len(order), len(rec))
	}
	for i, name := range order {
		if rec[i].Name != name {
			t.Errorf("field %d: %s, want %s", i, rec[i].Name, name)
		}
	}
}

func TestRepeatedSiblingsKeepFirst(t *testing.T) {
	doc, err := Parse(`<Sh-Data><PublicIdentifiers>
		<MSISDN>111</MSISDN>
		<MSISDN>222</MSISDN>
	</PublicIdentifiers></Sh-Data>`)
	if err != nil {
		t.Fatal(err)
	}
	if got := Flatten(doc).Get("MSISDN"); got != "111" {
		t.Errorf("MSISDN = %q, want first occurrence", got)
	}
}

func TestFlattenUnexpectedRoot(t *testing.T) {
	doc, err := Parse(`<Other><PublicIdentifiers><MSISDN>111</MSISDN></PublicIdentifiers></Other>`)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range Flatten(doc) {
		if v.Value != "" {
			t.Errorf("%s = %q, want empty for non-Sh-Data root", v.Name, v.Value)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"truncated", "<Sh-Data><Sh-IMS-Data>"},
		{"mismatched tags", "<Sh-Data></Other>"},
		{"not xml", "no xml here"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.in)
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestChildMissing(t *testing.T) {
	var n *Node
	if n.Child("anything") != nil {
		t.Error("nil node should have no children")
	}
}
