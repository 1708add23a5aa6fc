package diameter

import (
	"strings"

	"github.com/fiorix/go-diameter/v4/diam/dict"
)

// Command codes and identifiers for the 3GPP Sh application (TS 29.329).
const (
	ShApplicationID = 16777217
	Vendor3GPP      = 10415

	cmdUserData               = 306
	cmdProfileUpdate          = 307
	cmdSubscribeNotifications = 308
)

// Sh AVP codes. dict.Default only ships the base protocol and a few 3GPP
// interfaces, so the Sh-specific codes are declared here and defined in
// shDictionary below.
const (
	avpPublicIdentity = 601
	avpUserIdentity   = 700
	avpMSISDNCode     = 701
	avpShUserData     = 702
	avpDataReference  = 703
	avpSubsReqType    = 705
)

func init() {
	err := dict.Default.Load(strings.NewReader(shDictionary))
	if err != nil {
		panic(err)
	}
}

// shDictionary covers the subset of TS 29.329 the bridge speaks: the three
// request/answer pairs and the vendor AVPs they carry. Envelope AVPs
// (Session-Id, Origin-Host, ...) come from the base dictionary.
var shDictionary = `<?xml version="1.0" encoding="UTF-8"?>
<diameter>
	<application id="16777217" type="auth" name="3GPP Sh">
		<vendor id="10415" name="TGPP"/>

		<command code="306" short="UD" name="User-Data">
			<request>
				<rule avp="Session-Id" required="true" max="1"/>
				<rule avp="Vendor-Specific-Application-Id" required="false" max="1"/>
				<rule avp="Auth-Session-State" required="false" max="1"/>
				<rule avp="Origin-Host" required="true" max="1"/>
				<rule avp="Origin-Realm" required="true" max="1"/>
				<rule avp="Destination-Host" required="false" max="1"/>
				<rule avp="Destination-Realm" required="true" max="1"/>
				<rule avp="User-Identity" required="true" max="1"/>
				<rule avp="Data-Reference" required="true"/>
			</request>
			<answer>
				<rule avp="Session-Id" required="true" max="1"/>
				<rule avp="Vendor-Specific-Application-Id" required="false" max="1"/>
				<rule avp="Result-Code" required="false" max="1"/>
				<rule avp="Experimental-Result" required="false" max="1"/>
				<rule avp="Auth-Session-State" required="false" max="1"/>
				<rule avp="Origin-Host" required="true" max="1"/>
				<rule avp="Origin-Realm" required="true" max="1"/>
				<rule avp="Sh-User-Data" required="false" max="1"/>
			</answer>
		</command>

		<command code="307" short="PU" name="Profile-Update">
			<request>
				<rule avp="Session-Id" required="true" max="1"/>
				<rule avp="Vendor-Specific-Application-Id" required="false" max="1"/>
				<rule avp="Auth-Session-State" required="false" max="1"/>
				<rule avp="Origin-Host" required="true" max="1"/>
				<rule avp="Origin-Realm" required="true" max="1"/>
				<rule avp="Destination-Host" required="false" max="1"/>
				<rule avp="Destination-Realm" required="true" max="1"/>
				<rule avp="User-Identity" required="true" max="1"/>
				<rule avp="Data-Reference" required="true"/>
				<rule avp="Sh-User-Data" required="true" max="1"/>
			</request>
			<answer>
				<rule avp="Session-Id" required="true" max="1"/>
				<rule avp="Vendor-Specific-Application-Id" required="false" max="1"/>
				<rule avp="Result-Code" required="false" max="1"/>
				<rule avp="Experimental-Result" required="false" max="1"/>
				<rule avp="Auth-Session-State" required="false" max="1"/>
				<rule avp="Origin-Host" required="true" max="1"/>
				<rule avp="Origin-Realm" required="true" max="1"/>
			</answer>
		</command>

		<command code="308" short="SN" name="Subscribe-Notifications">
			<request>
				<rule avp="Session-Id" required="true" max="1"/>
				<rule avp="Vendor-Specific-Application-Id" required="false" max="1"/>
				<rule avp="Auth-Session-State" required="false" max="1"/>
				<rule avp="Origin-Host" required="true" max="1"/>
				<rule avp="Origin-Realm" required="true" max="1"/>
				<rule avp="Destination-Host" required="false" max="1"/>
				<rule avp="Destination-Realm" required="true" max="1"/>
				<rule avp="User-Identity" required="true" max="1"/>
				<rule avp="Data-Reference" required="true"/>
				<rule avp="Subs-Req-Type" required="true" max="1"/>
			</request>
			<answer>
				<rule avp="Session-Id" required="true" max="1"/>
				<rule avp="Vendor-Specific-Application-Id" required="false" max="1"/>
				<rule avp="Result-Code" required="false" max="1"/>
				<rule avp="Experimental-Result" required="false" max="1"/>
				<rule avp="Auth-Session-State" required="false" max="1"/>
				<rule avp="Origin-Host" required="true" max="1"/>
				<rule avp="Origin-Realm" required="true" max="1"/>
			</answer>
		</command>

		<avp name="Public-Identity" code="601" must="M,V" may="P" must-not="-" may-encrypt="N" vendor-id="10415">
			<data type="UTF8String"/>
		</avp>
		<avp name="User-Identity" code="700" must="M,V" may="P" must-not="-" may-encrypt="N" vendor-id="10415">
			<data type="Grouped">
				<rule avp="Public-Identity" required="false" max="1"/>
				<rule avp="MSISDN" required="false" max="1"/>
			</data>
		</avp>
		<avp name="MSISDN" code="701" must="M,V" may="P" must-not="-" may-encrypt="N" vendor-id="10415">
			<data type="OctetString"/>
		</avp>
		<avp name="Sh-User-Data" code="702" must="M,V" may="P" must-not="-" may-encrypt="N" vendor-id="10415">
			<data type="OctetString"/>
		</avp>
		<avp name="Data-Reference" code="703" must="M,V" may="P" must-not="-" may-encrypt="N" vendor-id="10415">
			<data type="Enumerated">
				<item code="0" name="REPOSITORY_DATA"/>
				<item code="1" name="IMS_USER_STATE"/>
				<item code="6" name="MSISDN"/>
			</data>
		</avp>
		<avp name="Subs-Req-Type" code="705" must="M,V" may="P" must-not="-" may-encrypt="N" vendor-id="10415">
			<data type="Enumerated">
				<item code="0" name="SUBSCRIBE"/>
				<item code="1" name="UNSUBSCRIBE"/>
			</data>
		</avp>
	</application>
</diameter>`
