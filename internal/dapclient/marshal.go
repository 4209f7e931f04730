package dapclient

import "encoding/json"

func marshalArgs(args map[string]any) (json.RawMessage, error) {
	return json.Marshal(args)
}
