package udsserver

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// recordConfig is one [[record]] table in a data file. A record value
// is given either as a hex string or as a literal ASCII string.
type recordConfig struct {
	ID    string `toml:"id"`
	Hex   string `toml:"hex"`
	ASCII string `toml:"ascii"`
}

type dataFile struct {
	Records []recordConfig `toml:"record"`
}

// LoadDataFile reads a TOML data-identifier table:
//
//	[[record]]
//	id = "0xF190"
//	ascii = "5YJSA1DG9DFP14705"
//
//	[[record]]
//	id = "0x2001"
//	hex = "0102030405060708"
func LoadDataFile(path string) (map[uint16][]byte, error) {
	var file dataFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(file.Records) == 0 {
		return nil, fmt.Errorf("%s defines no records", path)
	}

	records := make(map[uint16][]byte, len(file.Records))
	for _, r := range file.Records {
		id, err := parseIdentifier(r.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		value, err := recordValue(r)
		if err != nil {
			return nil, fmt.Errorf("%s: record %s: %w", path, r.ID, err)
		}
		if _, dup := records[id]; dup {
			return nil, fmt.Errorf("%s: duplicate record id %s", path, r.ID)
		}
		records[id] = value
	}
	return records, nil
}

func parseIdentifier(s string) (uint16, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return uint16(id), nil
}

func recordValue(r recordConfig) ([]byte, error) {
	switch {
	case r.Hex != "" && r.ASCII != "":
		return nil, fmt.Errorf("hex and ascii are mutually exclusive")
	case r.Hex != "":
		value, err := hex.DecodeString(r.Hex)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %w", err)
		}
		return value, nil
	case r.ASCII != "":
		return []byte(r.ASCII), nil
	}
	return nil, fmt.Errorf("record needs a hex or ascii value")
}
