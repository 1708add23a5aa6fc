package diameter

import (
	"github.com/fiorix/go-diameter/v4/diam/avp"
)

// avpDict maps the AVP names request builders may reference to their codes,
// flags and value converters. The envelope AVPs use base-dictionary codes;
// the Sh AVPs carry the 3GPP vendor bit.
var avpDict map[string]*avpMeta

func init() {
	avpDict = map[string]*avpMeta{
		"Session-Id":                     {code: avp.SessionID, flag: avp.Mbit, vendor: 0, converter: toUTF8String},
		"Auth-Application-Id":            {code: avp.AuthApplicationID, flag: avp.Mbit, vendor: 0, converter: toUnsigned32},
		"Origin-Host":                    {code: avp.OriginHost, flag: avp.Mbit, vendor: 0, converter: toDiameterIdentity},
		"Origin-Realm":                   {code: avp.OriginRealm, flag: avp.Mbit, vendor: 0, converter: toDiameterIdentity},
		"Destination-Host":               {code: avp.DestinationHost, flag: avp.Mbit, vendor: 0, converter: toDiameterIdentity},
		"Destination-Realm":              {code: avp.DestinationRealm, flag: avp.Mbit, vendor: 0, converter: toDiameterIdentity},
		"Vendor-Id":                      {code: avp.VendorID, flag: avp.Mbit, vendor: 0, converter: toUnsigned32},
		"Vendor-Specific-Application-Id": {code: avp.VendorSpecificApplicationID, flag: avp.Mbit, vendor: 0, converter: toGrouped},
		"Public-Identity":                {code: avpPublicIdentity, flag: avp.Mbit | avp.Vbit, vendor: Vendor3GPP, converter: toUTF8String},
		"User-Identity":                  {code: avpUserIdentity, flag: avp.Mbit | avp.Vbit, vendor: Vendor3GPP, converter: toGrouped},
		"MSISDN":                         {code: avpMSISDNCode, flag: avp.Mbit | avp.Vbit, vendor: Vendor3GPP, converter: toOctetString},
		"Sh-User-Data":                   {code: avpShUserData, flag: avp.Mbit | avp.Vbit, vendor: Vendor3GPP, converter: toOctetString},
		"Data-Reference":                 {code: avpDataReference, flag: avp.Mbit | avp.Vbit, vendor: Vendor3GPP, converter: toEnumerated},
		"Subs-Req-Type":                  {code: avpSubsReqType, flag: avp.Mbit | avp.Vbit, vendor: Vendor3GPP, converter: toEnumerated},
	}
}
