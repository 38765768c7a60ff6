package transport

//	Message is one decoded header document. Binary buffers sit in it as
//	Buffer values, both before encoding and after the side-channel splice.
type Message map[string]interface{}

//	Buffer is a raw binary payload carried out of band. Width is the byte
//	width of one element, used to rebuild typed arrays on the far side.
type Buffer struct {
	Data  []byte
	Width int
}

func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

func (m Message) Command() string {
	c, _ := m["command"].(string)
	return c
}
