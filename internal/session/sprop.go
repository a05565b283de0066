package session

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ParseSpropParameterSets decodes a comma separated list of base64 NAL
// units, the value format of sprop-parameter-sets (RFC 6184) and of
// sprop-vps, sprop-sps and sprop-pps (RFC 7798). Padding is optional.
func ParseSpropParameterSets(value string) ([][]byte, error) {
	var units [][]byte
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		unit, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			unit, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(part, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("decode parameter set %q: %w", part, err)
		}
		if len(unit) > 0 {
			units = append(units, unit)
		}
	}
	return units, nil
}

// spropKeys lists the fmtp parameters carrying parameter sets, in the order
// their units are handed to the reconstructor.
var spropKeys = []string{"sprop-vps", "sprop-sps", "sprop-parameter-sets", "sprop-pps"}

// ParseFmtp extracts the parameter sets from an SDP fmtp attribute value,
// for example "96 packetization-mode=1;sprop-parameter-sets=Z0IAH5WoFAFuQA==,aM48gA==".
// A leading "a=fmtp:" and the payload type are optional.
func ParseFmtp(fmtp string) ([][]byte, error) {
	fmtp = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(fmtp), "a=fmtp:"))
	if i := strings.IndexByte(fmtp, ' '); i >= 0 && !strings.Contains(fmtp[:i], "=") {
		fmtp = fmtp[i+1:]
	}

	params := make(map[string]string)
	for _, kv := range strings.Split(fmtp, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	var units [][]byte
	for _, key := range spropKeys {
		value, ok := params[key]
		if !ok {
			continue
		}
		decoded, err := ParseSpropParameterSets(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		units = append(units, decoded...)
	}
	return units, nil
}
