package models

import (
	"encoding/json"
	"fmt"
)

// EncodeAccessTable serializes the token table as a JSON object keyed
// by token. This is the export, import and seed format. An unscoped
// record carries "" for project_id and dataset_id; null decodes to the
// same.
func EncodeAccessTable(table map[string]AccessRecord) ([]byte, error) {
	if table == nil {
		table = map[string]AccessRecord{}
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding access table: %w", err)
	}

	return data, nil
}

// DecodeAccessTable parses a JSON object keyed by token. Records that
// omit their token inherit the key; a record whose token disagrees
// with its key, or whose oauth status is missing, is rejected.
func DecodeAccessTable(data []byte) (map[string]AccessRecord, error) {
	var table map[string]AccessRecord
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decoding access table: %w", err)
	}

	if table == nil {
		return nil, fmt.Errorf("decoding access table: expected a JSON object")
	}

	for key, rec := range table {
		if key == "" {
			return nil, fmt.Errorf("decoding access table: empty token key")
		}

		if rec.Token == "" {
			rec.Token = key
		}

		if rec.Token != key {
			return nil, fmt.Errorf("decoding access table: record key does not match its token")
		}

		if !rec.OAuthStatus.Valid() {
			return nil, fmt.Errorf("decoding access table: record has no valid oauth_status")
		}

		table[key] = rec
	}

	return table, nil
}
