package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateEncoding(t *testing.T) {
	assert.Equal(t, EncodingPacked, NegotiateEncoding("packed,json"))
	assert.Equal(t, EncodingJSON, NegotiateEncoding("json"))
	assert.Equal(t, EncodingJSON, NegotiateEncoding(""))
	assert.Equal(t, EncodingJSON, NegotiateEncoding("gzip"))
}

func TestRoundTripAllTypes(t *testing.T) {
	msgs := []*Message{
		NewFileWrite("alice@x.com/a.txt", "etag1", 3, []byte("abc")),
		NewAck("abc123"),
		NewNack("abc123", "boom"),
		{ID: "1", Type: TypeHTTP, Data: HTTP{SyftURL: "syft://bob@x.com/app/1.request", ID: "1", Body: []byte("{}")}},
		NewACLManifest(&ACLManifest{
			Version: 1, Datasite: "bob@x.com", ForUser: "alice@x.com",
			ACLOrder: []ACLManifestEntry{{Path: "bob@x.com", Hash: "h1"}, {Path: "bob@x.com/public", Hash: "h2"}},
		}),
		NewHotlinkOpen("sess1", "alice@x.com/app/a.request"),
		NewHotlinkAccept("sess1"),
		NewHotlinkReject("sess1", "ipc setup failed"),
		NewHotlinkData("sess1", 1, "alice@x.com/app/a.request", "etag2", []byte{1, 2, 3}),
		NewHotlinkClose("sess1", "done"),
		NewHotlinkSignal("sess1", "offer", []string{"1.2.3.4:1", "5.6.7.8:2"}, "tok", ""),
	}

	for _, enc := range []Encoding{EncodingJSON, EncodingPacked} {
		for _, m := range msgs {
			data, err := Encode(m, enc)
			require.NoError(t, err)

			decoded, gotEnc, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, enc, gotEnc)
			assert.Equal(t, m.Type, decoded.Type)
			assert.Equal(t, m.ID, decoded.ID)
		}
	}
}

func TestPackedDataIsBytesNotIntSequence(t *testing.T) {
	m := NewFileWrite("alice@x.com/a.txt", "etag1", 3, []byte("abc"))
	data, err := Encode(m, EncodingPacked)
	require.NoError(t, err)

	require.True(t, len(data) >= 4)
	assert.Equal(t, envelopeMagic0, data[0])
	assert.Equal(t, envelopeMagic1, data[1])
	assert.Equal(t, envelopeVersion, data[2])
	assert.Equal(t, byte(EncodingPacked), data[3])
}

func TestUnknownEnvelopeVersionFails(t *testing.T) {
	_, _, err := Decode([]byte{envelopeMagic0, envelopeMagic1, 9, 0})
	require.Error(t, err)
}

func TestFileWriteNotifySemantics(t *testing.T) {
	m := NewFileWrite("alice@x.com/a.txt", "etag1", 10, nil)
	fw := m.Data.(*FileWrite)
	assert.True(t, fw.Length > 0 && len(fw.Content) == 0, "notify-only push must have empty content with positive length")
}
