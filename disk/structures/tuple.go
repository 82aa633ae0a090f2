package structures

// Tuple is an opaque row image. The engine never interprets tuple bytes, it only moves them
// between pages and log records; interpretation belongs to the catalog layer which is outside
// this module.
type Tuple struct {
	Data []byte
}

func NewTuple(data []byte) Tuple {
	return Tuple{Data: data}
}

func (t Tuple) Size() int {
	return len(t.Data)
}
