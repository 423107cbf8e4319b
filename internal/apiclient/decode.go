package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// decodeList accepts either a paginated object {"results": [...]} or a bare
// array and returns the items.
func decodeList[T any](resp *Response) ([]T, error) {
	if !resp.JSON {
		return nil, fmt.Errorf("%w: list body is not JSON", ErrUnexpectedShape)
	}
	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty list body", ErrUnexpectedShape)
	}

	if data[0] == '{' {
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		data = bytes.TrimSpace(page.Results)
	}
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: expected a list", ErrUnexpectedShape)
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// looseString decodes a JSON string or number into a string. The backend
// returns numeric ids in some places where it returns labels in others.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("not a string or number: %s", b)
	}
	*s = looseString(b)
	return nil
}
