package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// extractJSON drops code fences and prose around the outermost JSON object
// or array of a model response.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

func decodeModelJSON(raw string, out any) error {
	payload := extractJSON(raw)
	if payload == "" {
		return fmt.Errorf("empty model response")
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("unmarshal model json: %w", err)
	}
	return nil
}

// idList accepts document ids as JSON numbers or numeric strings.
type idList []int64

func (l *idList) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch typed := v.(type) {
		case float64:
			out = append(out, int64(typed))
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
			if err == nil {
				out = append(out, n)
			}
		}
	}
	*l = out
	return nil
}

// valueList accepts a scalar or an array of scalars.
type valueList []string

func (l *valueList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case nil:
		*l = nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, v := range typed {
			if v == nil {
				continue
			}
			out = append(out, scalarString(v))
		}
		*l = out
	default:
		*l = []string{scalarString(typed)}
	}
	return nil
}

func scalarString(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}
