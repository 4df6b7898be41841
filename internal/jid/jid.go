// Package jid canonicalizes and classifies raw WhatsApp addresses.
package jid

import "strings"

const (
	// UserServer is the server part of one-to-one chat addresses.
	UserServer = "s.whatsapp.net"
	// GroupServer is the server part of group chat addresses.
	GroupServer = "g.us"
	// StatusBroadcast is the pseudo-address used for status posts.
	StatusBroadcast = "status@broadcast"
)

// Normalize strips the device-session segment from an address:
// "5511999:12@s.whatsapp.net" -> "5511999@s.whatsapp.net".
// Addresses without a session separator pass through unchanged.
func Normalize(addr string) string {
	colon := strings.IndexByte(addr, ':')
	if colon < 0 {
		return addr
	}
	at := strings.IndexByte(addr, '@')
	if at < colon {
		return addr
	}
	return addr[:colon] + addr[at:]
}

// IsRoutable reports whether an address identifies a real chat.
// Broadcast and status pseudo-addresses carry no chat traffic.
func IsRoutable(addr string) bool {
	return addr != "" && !strings.Contains(addr, "@broadcast")
}

// IsGroup reports whether an address is group-shaped.
func IsGroup(addr string) bool {
	return strings.HasSuffix(addr, "@"+GroupServer)
}

// LocalPart returns the address up to the server separator.
func LocalPart(addr string) string {
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		return addr[:at]
	}
	return addr
}

// LooksRaw reports whether a display value is really an address in
// disguise. Used by the chat name upgrade rule: raw-looking names are
// always eligible for replacement by a resolved one.
func LooksRaw(name string) bool {
	return strings.HasSuffix(name, "@"+UserServer) ||
		strings.HasSuffix(name, "@"+GroupServer) ||
		strings.HasSuffix(name, "@lid")
}

// SafeFilename maps an address to a filesystem-safe file stem.
func SafeFilename(addr string) string {
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
