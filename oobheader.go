package oobd

import "strings"

// HeaderOOB is the request header devices use to report local state.
const HeaderOOB = "X-OOB"

// HeaderKeyBootID is the X-OOB key carrying the device's current boot
// identifier.
const HeaderKeyBootID = "uuid"

// ParseOOBHeader parses an X-OOB header value of the form
//
//	key 'value'; key2 'value2';
//
// into a map. Malformed pairs are skipped; keys are lowercased. A
// missing or empty header yields an empty map.
func ParseOOBHeader(value string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, quoted, ok := strings.Cut(pair, " ")
		if !ok {
			continue
		}
		quoted = strings.TrimSpace(quoted)
		if len(quoted) < 2 || quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(key))] = quoted[1 : len(quoted)-1]
	}
	return out
}
