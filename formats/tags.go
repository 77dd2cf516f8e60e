package formats

import (
	"bytes"
	"io"
)

// tagAppName is the application identifier this library stamps into
// IMF/DRO tag blocks it writes.
const tagAppName = "oplsong"

// Tags is the title/artist/comment/app tuple carried by the IMF/DRO tag
// block.
type Tags struct {
	Title, Artist, Comment, App string
}

// ReadTagBlock decodes an optional trailing tag block: 0x1A followed by
// three NUL-terminated strings and a fixed 9-byte app field. Returns
// ok=false if data does not begin with the 0x1A marker; callers should
// treat that as "no tags present", not an error.
func ReadTagBlock(data []byte) (Tags, bool, error) {
	if len(data) == 0 || data[0] != 0x1A {
		return Tags{}, false, nil
	}
	r := bytes.NewReader(data[1:])

	readCString := func() (string, error) {
		var buf []byte
		for {
			b, err := r.ReadByte()
			if err != nil {
				return "", err
			}
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
		}
	}

	title, err := readCString()
	if err != nil {
		return Tags{}, true, err
	}
	artist, err := readCString()
	if err != nil {
		return Tags{}, true, err
	}
	comment, err := readCString()
	if err != nil {
		return Tags{}, true, err
	}

	appBuf := make([]byte, 9)
	if _, err := io.ReadFull(r, appBuf); err != nil {
		return Tags{}, true, err
	}
	app := string(bytes.TrimRight(appBuf, "\x00"))

	return Tags{Title: title, Artist: artist, Comment: comment, App: app}, true, nil
}

// WriteTagBlock encodes t as an IMF/DRO tag block. The 9-byte app field
// is always fully NUL-padded, regardless of tagAppName's length.
func WriteTagBlock(w io.Writer, t Tags) error {
	var buf bytes.Buffer
	buf.WriteByte(0x1A)
	buf.WriteString(t.Title)
	buf.WriteByte(0)
	buf.WriteString(t.Artist)
	buf.WriteByte(0)
	buf.WriteString(t.Comment)
	buf.WriteByte(0)

	app := make([]byte, 9)
	name := t.App
	if name == "" {
		name = tagAppName
	}
	copy(app, name)
	buf.Write(app)

	_, err := w.Write(buf.Bytes())
	return err
}

func tagsToMap(t Tags) map[string]string {
	return map[string]string{"title": t.Title, "artist": t.Artist, "comment": t.Comment, "app": t.App}
}

func tagsFromMap(m map[string]string) Tags {
	return Tags{Title: m["title"], Artist: m["artist"], Comment: m["comment"], App: m["app"]}
}
