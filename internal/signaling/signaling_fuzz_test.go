package signaling

import (
	"testing"
)

func FuzzParseClientMessage(f *testing.F) {
	f.Add([]byte(`{"type":"join","id":"room"}`))
	f.Add([]byte(`{"type":"offer","id":"room","data":{"sdp":"v=0"}}`))
	f.Add([]byte(`{"type":"answer","id":"room","data":{"sdp":"v=0"}}`))
	f.Add([]byte(`{"type":"icecandidate","id":"room","data":{"candidate":"candidate:0"}}`))
	f.Add([]byte(`{"type":"disconnect","id":"room"}`))
	f.Add([]byte(`{"type":"join"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(``))
	f.Add([]byte(`[]`))
	f.Add([]byte(`{"type":"join","id":"room","data":`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := ParseClientMessage(data)
		if err != nil {
			return
		}
		switch msg.Type {
		case ClientMessageJoin, ClientMessageOffer, ClientMessageAnswer,
			ClientMessageCandidate, ClientMessageDisconnect:
		default:
			t.Fatalf("accepted message with invalid type %q", msg.Type)
		}
	})
}
