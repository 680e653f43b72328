package validation

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
)

// Minimal but structurally honest image fixtures: real signatures, real chunk
// framing, real CRCs, so the metadata walkers and anomaly scoring see the same
// shapes they would in production.

var pngSig = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func pngChunk(typ string, data []byte) []byte {
	out := make([]byte, 0, len(data)+12)
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(data)))
	out = append(out, word[:]...)
	out = append(out, typ...)
	out = append(out, data...)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	binary.BigEndian.PutUint32(word[:], crc.Sum32())
	out = append(out, word[:]...)
	return out
}

func pngIHDR() []byte {
	data := make([]byte, 13)
	binary.BigEndian.PutUint32(data[0:4], 1) // width
	binary.BigEndian.PutUint32(data[4:8], 1) // height
	data[8] = 8                              // bit depth
	data[9] = 2                              // color type: truecolor
	return pngChunk("IHDR", data)
}

// buildPNG assembles sig + IHDR + IDAT(payload) + extra chunks + IEND.
func buildPNG(idat []byte, extraChunks ...[]byte) []byte {
	out := append([]byte{}, pngSig...)
	out = append(out, pngIHDR()...)
	out = append(out, pngChunk("IDAT", idat)...)
	for _, c := range extraChunks {
		out = append(out, c...)
	}
	out = append(out, pngChunk("IEND", nil)...)
	return out
}

// buildPNGSized pads the IDAT chunk so the whole file is exactly n bytes.
func buildPNGSized(n int) []byte {
	base := buildPNG(nil)
	pad := n - len(base)
	if pad < 0 {
		panic("fixture smaller than requested size")
	}
	return buildPNG(bytes.Repeat([]byte{0x00}, pad))
}

func pngTextChunk(keyword, text string) []byte {
	data := append([]byte(keyword), 0)
	data = append(data, text...)
	return pngChunk("tEXt", data)
}

// pngCompressedTextChunk builds a zTXt chunk: keyword, NUL, method 0, then the
// zlib-compressed text.
func pngCompressedTextChunk(keyword, text string) []byte {
	data := append([]byte(keyword), 0, 0)
	data = append(data, deflate(text)...)
	return pngChunk("zTXt", data)
}

// pngITXtChunk builds an iTXt chunk with empty language tag and translated
// keyword; the text is zlib-compressed when compressed is set.
func pngITXtChunk(keyword, text string, compressed bool) []byte {
	data := append([]byte(keyword), 0)
	if compressed {
		data = append(data, 1, 0)
	} else {
		data = append(data, 0, 0)
	}
	data = append(data, 0, 0) // language tag, translated keyword
	if compressed {
		data = append(data, deflate(text)...)
	} else {
		data = append(data, text...)
	}
	return pngChunk("iTXt", data)
}

func deflate(text string) []byte {
	var b bytes.Buffer
	zw := zlib.NewWriter(&b)
	zw.Write([]byte(text))
	zw.Close()
	return b.Bytes()
}

// buildJPEG is a minimal clean JPEG: SOI, a JFIF APP0 segment, EOI. Long
// enough that every supported format's signature check reads real bytes.
func buildJPEG() []byte {
	app0 := []byte{
		0xFF, 0xE0, 0x00, 0x10,
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01, // version
		0x00,                   // density units
		0x00, 0x01, 0x00, 0x01, // x/y density
		0x00, 0x00, // thumbnail
	}
	out := []byte{0xFF, 0xD8}
	out = append(out, app0...)
	out = append(out, 0xFF, 0xD9)
	return out
}

// buildJPEGWithEXIF embeds a real TIFF block whose ImageDescription field
// carries desc, wrapped in an APP1 EXIF segment.
func buildJPEGWithEXIF(desc string) []byte {
	tiff := tiffWithDescription(desc)
	payload := append([]byte("Exif\x00\x00"), tiff...)
	seg := []byte{0xFF, 0xE1}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(payload)+2))
	seg = append(seg, l[:]...)
	seg = append(seg, payload...)

	out := []byte{0xFF, 0xD8}
	out = append(out, seg...)
	out = append(out, 0xFF, 0xD9)
	return out
}

// tiffWithDescription builds a one-field little-endian TIFF: IFD0 with an
// ASCII ImageDescription tag whose value sits right after the IFD.
func tiffWithDescription(desc string) []byte {
	val := append([]byte(desc), 0)
	b := &bytes.Buffer{}
	b.WriteString("II")
	binary.Write(b, binary.LittleEndian, uint16(42))
	binary.Write(b, binary.LittleEndian, uint32(8))      // IFD0 offset
	binary.Write(b, binary.LittleEndian, uint16(1))      // field count
	binary.Write(b, binary.LittleEndian, uint16(0x010E)) // ImageDescription
	binary.Write(b, binary.LittleEndian, uint16(2))      // ASCII
	binary.Write(b, binary.LittleEndian, uint32(len(val)))
	binary.Write(b, binary.LittleEndian, uint32(26)) // value offset
	binary.Write(b, binary.LittleEndian, uint32(0))  // next IFD
	b.Write(val)
	return b.Bytes()
}

func buildGIF() []byte {
	out := []byte("GIF89a")
	// logical screen descriptor + trailer
	out = append(out, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x3B)
	return out
}

func buildWebP() []byte {
	out := []byte("RIFF")
	out = append(out, 0x04, 0x00, 0x00, 0x00)
	out = append(out, "WEBP"...)
	return out
}
