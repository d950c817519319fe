package model

import "go.mau.fi/whatsmeow/types"

// NormalizeJID returns the canonical user address of jid: the device and
// agent parts are dropped and the legacy c.us server becomes s.whatsapp.net.
// Values that do not parse are returned unchanged.
func NormalizeJID(jid string) string {
	if jid == "" {
		return ""
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	if parsed.Server == types.LegacyUserServer {
		parsed.Server = types.DefaultUserServer
	}
	return parsed.ToNonAD().String()
}
