package hashtable

import "encoding/json"

// Serde marshals and unmarshals a partition's key space to and from the
// opaque blob load/sync/dump read and write (spec §6: "the engine does
// not interpret the blob" — whatever Serde is attached decides the wire
// format). JSON is the default; a partition type in a real deployment
// might swap in something denser for large data sets.
type Serde interface {
	Marshal(data map[string][]byte) ([]byte, error)
	Unmarshal(blob []byte) (map[string][]byte, error)
}

// jsonSerde is the default Serde, sufficient for tests and for any
// deployment that hasn't opted into a denser wire format.
type jsonSerde struct{}

func (jsonSerde) Marshal(data map[string][]byte) ([]byte, error) {
	return json.Marshal(data)
}

func (jsonSerde) Unmarshal(blob []byte) (map[string][]byte, error) {
	m := make(map[string][]byte)
	if len(blob) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, err
	}
	return m, nil
}
