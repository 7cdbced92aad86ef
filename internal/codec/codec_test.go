package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Hex")
	require.NoError(t, err)
	assert.Equal(t, FormatHex, f)

	_, err = ParseFormat("base64")
	assert.Error(t, err)
}

func TestHexRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x03, 0x00, 0xFF, 0xAB}
	text, err := Encode(data, FormatHex)
	require.NoError(t, err)
	assert.Equal(t, "01 03 00 FF AB", text)

	back, err := Decode(text, FormatHex)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestDecodeHexSeparators(t *testing.T) {
	// 空白、逗号分隔和连写都接受
	for _, in := range []string{"01 03 C5", "01,03,C5", "0103C5", "01\t03\nC5"} {
		out, err := Decode(in, FormatHex)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x01, 0x03, 0xC5}, out, in)
	}
}

func TestDecodeHexErrors(t *testing.T) {
	_, err := Decode("01 0", FormatHex)
	require.Error(t, err)
	de, ok := err.(*DecodeError)
	require.True(t, ok)
	assert.Equal(t, "0", de.Token)
	assert.Equal(t, 3, de.Offset)

	_, err = Decode("01 0G", FormatHex)
	require.Error(t, err)
	de = err.(*DecodeError)
	assert.Equal(t, "G", de.Token)
	assert.Equal(t, 4, de.Offset)
}

func TestASCIIRoundTrip(t *testing.T) {
	// 含反斜杠和不可打印字节也要能还原
	data := []byte("AT+RST\r\n")
	data = append(data, '\\', 0x00, 0x1B, 0x7F)
	text, err := Encode(data, FormatASCII)
	require.NoError(t, err)
	back, err := Decode(text, FormatASCII)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestDecodeASCIIEscapes(t *testing.T) {
	out, err := Decode(`hi\r\n\x00\\`, FormatASCII)
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 'i', '\r', '\n', 0x00, '\\'}, out)

	_, err = Decode(`bad\q`, FormatASCII)
	assert.Error(t, err)
	_, err = Decode(`bad\x0`, FormatASCII)
	assert.Error(t, err)
	_, err = Decode("bad\\", FormatASCII)
	assert.Error(t, err)
}

func TestBinaryRoundTrip(t *testing.T) {
	data := []byte{0b10100101, 0x00, 0xFF}
	text, err := Encode(data, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, "10100101 00000000 11111111", text)

	back, err := Decode(text, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	// 连写 16 位也按字节切
	out, err := Decode("1010010100000001", FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5, 0x01}, out)

	_, err = Decode("1010", FormatBinary)
	assert.Error(t, err)
	_, err = Decode("10100102", FormatBinary)
	assert.Error(t, err)
}

func TestDecimalRoundTrip(t *testing.T) {
	data := []byte{0, 127, 255}
	text, err := Encode(data, FormatDecimal)
	require.NoError(t, err)
	assert.Equal(t, "0 127 255", text)

	back, err := Decode(text, FormatDecimal)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	_, err = Decode("256", FormatDecimal)
	assert.Error(t, err)
	_, err = Decode("-1", FormatDecimal)
	assert.Error(t, err)
}

func TestMixedDisplayOnly(t *testing.T) {
	text, err := Encode([]byte("Hello\x00World!!!!!!!!"), FormatMixed)
	require.NoError(t, err)
	assert.Contains(t, text, "00000000 |")
	assert.Contains(t, text, "Hello.World")

	// 超过一行的部分换行并带行偏移
	long := make([]byte, 20)
	text, err = Encode(long, FormatMixed)
	require.NoError(t, err)
	assert.Contains(t, text, "00000010 |")

	_, err = Decode("anything", FormatMixed)
	require.Error(t, err)
	de, ok := err.(*DecodeError)
	require.True(t, ok)
	assert.Equal(t, FormatMixed, de.Format)
}

func TestRendererRegistry(t *testing.T) {
	for _, f := range []Format{FormatASCII, FormatHex, FormatBinary, FormatDecimal, FormatMixed} {
		r, err := RendererFor(f)
		require.NoError(t, err, f)
		assert.Equal(t, f, r.Format())
	}
	assert.Len(t, Formats(), 5)

	r, err := RendererFor(FormatHex)
	require.NoError(t, err)
	assert.Equal(t, "DE AD", r.Render([]byte{0xDE, 0xAD}))

	_, err = RendererFor("base64")
	assert.Error(t, err)
}
