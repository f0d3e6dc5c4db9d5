package lifecycle

import "encoding/json"

// marshalEnumString and unmarshalEnumString back every enum's JSON
// round-trip in this package, so RunState, TerminationStatus, and
// StatusFlag all serialize as their names rather than raw ints — readable
// on the wire and stable across the Go/non-Go processes that may
// someday read these events.
func marshalEnumString(name string) ([]byte, error) {
	return json.Marshal(name)
}

func unmarshalEnumString(data []byte) (string, error) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return "", err
	}
	return name, nil
}
