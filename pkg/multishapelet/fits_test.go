package multishapelet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitsRecord(keyword, value string) []byte {
	rec := fmt.Sprintf("%-8s= %-70s", keyword, value)
	return []byte(rec[:80])
}

func fitsHeader(records ...[]byte) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.Write(r)
	}
	buf.Write([]byte(fmt.Sprintf("%-80s", "END")))
	for buf.Len()%2880 != 0 {
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func TestReadFits16Bit(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(fitsHeader(
		fitsRecord("SIMPLE", "T"),
		fitsRecord("BITPIX", "16"),
		fitsRecord("NAXIS", "2"),
		fitsRecord("NAXIS1", "3"),
		fitsRecord("NAXIS2", "2"),
		fitsRecord("BZERO", "32768.0"),
		fitsRecord("BSCALE", "1.0"),
		fitsRecord("OBJECT", "'M31     '"),
		fitsRecord("EXPTIME", "30.0"),
	))
	// Unsigned values 0..5 stored as offset signed big-endian.
	for i := 0; i < 6; i++ {
		signed := int16(i - 32768)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(signed))
		buf.Write(b[:])
	}

	im, meta, err := ReadFitsFromBytes(buf.Bytes())
	require.NoError(t, err)
	b := im.Bounds()
	assert.Equal(t, 3, b.Dx())
	assert.Equal(t, 2, b.Dy())
	for i, v := range im.Data() {
		assert.Equal(t, float64(i), v, "pixel %d", i)
	}
	assert.Equal(t, "M31", meta.ObjectName())
	exp, ok := meta.ExposureTime()
	assert.True(t, ok)
	assert.Equal(t, 30.0, exp)
}

func TestReadFitsFloat32(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(fitsHeader(
		fitsRecord("SIMPLE", "T"),
		fitsRecord("BITPIX", "-32"),
		fitsRecord("NAXIS", "2"),
		fitsRecord("NAXIS1", "2"),
		fitsRecord("NAXIS2", "2"),
	))
	want := []float32{1.5, -2.25, 0, 1e6}
	for _, v := range want {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}

	im, _, err := ReadFitsFromBytes(buf.Bytes())
	require.NoError(t, err)
	for i, v := range want {
		assert.Equal(t, float64(v), im.Data()[i], "pixel %d", i)
	}
}

func TestReadFitsInvalidHeader(t *testing.T) {
	_, _, err := ReadFitsFromBytes(fitsHeader(
		fitsRecord("SIMPLE", "T"),
		fitsRecord("BITPIX", "16"),
		fitsRecord("NAXIS", "0"),
	))
	assert.Error(t, err)

	_, _, err = ReadFitsFromBytes([]byte("notafits"))
	assert.Error(t, err)
}

func TestReadFitsUnsupportedBitpix(t *testing.T) {
	_, _, err := ReadFitsFromBytes(fitsHeader(
		fitsRecord("SIMPLE", "T"),
		fitsRecord("BITPIX", "64"),
		fitsRecord("NAXIS", "2"),
		fitsRecord("NAXIS1", "2"),
		fitsRecord("NAXIS2", "2"),
	))
	assert.Error(t, err)
}

func TestParseFitsValue(t *testing.T) {
	assert.Equal(t, "True", parseFitsValue("T"))
	assert.Equal(t, "False", parseFitsValue("F"))
	assert.Equal(t, "M31", parseFitsValue("'M31     '"))
	assert.Equal(t, "42", parseFitsValue("42"))
	assert.Equal(t, "", parseFitsValue(""))
}
