package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineSize bounds a single protocol line when no limit is configured.
const DefaultMaxLineSize = 4096

var (
	// ErrUnknownKind is returned for an envelope whose type is not registered.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrMissingKind is returned for an envelope without a type.
	ErrMissingKind = errors.New("message kind missing")
	// ErrLineTooLong is returned when a line exceeds the decoder's limit.
	ErrLineTooLong = errors.New("message line too long")
)

// DecodeError reports a line that could not be turned into a Message.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type decodeFunc func(data []byte) (Message, error)

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var registry = map[Kind]decodeFunc{
	KindLogin:           decodeAs[Login],
	KindLoginOK:         decodeAs[LoginOK],
	KindLoginWrong:      decodeAs[LoginWrong],
	KindKeepAlive:       decodeAs[KeepAlive],
	KindAlive:           decodeAs[Alive],
	KindLogout:          decodeAs[Logout],
	KindLoggedOut:       decodeAs[LoggedOut],
	KindKick:            decodeAs[Kick],
	KindPublic:          decodeAs[Public],
	KindPublicBroadcast: decodeAs[PublicBroadcast],
	KindEnterRoom:       decodeAs[EnterRoom],
	KindEnteredRoom:     decodeAs[EnteredRoom],
	KindLeftRoom:        decodeAs[LeftRoom],
	KindGo:              decodeAs[Go],
	KindListDoors:       decodeAs[ListDoors],
	KindListedDoors:     decodeAs[ListedDoors],
}

// Known reports whether k is a registered message kind.
func Known(k Kind) bool {
	_, ok := registry[k]
	return ok
}

// Encode renders m as a single JSON object with its kind under "type".
// The result never contains a newline.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	kind, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(kind) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses one line back into the variant named by its "type" field.
// Fields absent from the line are left at their zero value.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimRight(line, "\r\n")

	var envelope struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	if envelope.Type == "" {
		return nil, &DecodeError{Line: string(line), Err: ErrMissingKind}
	}

	decode, ok := registry[envelope.Type]
	if !ok {
		return nil, &DecodeError{Line: string(line), Err: fmt.Errorf("%w: %s", ErrUnknownKind, envelope.Type)}
	}

	m, err := decode(line)
	if err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	return m, nil
}

// Encoder writes one message per line. It is not safe for concurrent use.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by a newline in a single Write call.
func (e *Encoder) Encode(m Message) error {
	line, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(line, '\n'))
	return err
}

// Decoder reads one message per line. It is not safe for concurrent use.
type Decoder struct {
	scanner *bufio.Scanner
	last    []byte
}

// NewDecoder returns a Decoder reading from r. Lines longer than maxLineSize
// bytes fail with ErrLineTooLong; a non-positive limit selects
// DefaultMaxLineSize.
func NewDecoder(r io.Reader, maxLineSize int) *Decoder {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(maxLineSize, 4096)), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Decode returns the next message. Blank lines are skipped. At end of stream
// it returns io.EOF; a transport failure is returned as is, and a malformed
// line as a *DecodeError.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		d.last = append(d.last[:0], line...)
		return Decode(line)
	}

	err := d.scanner.Err()
	switch {
	case err == nil:
		return nil, io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return nil, &DecodeError{Err: ErrLineTooLong}
	default:
		return nil, err
	}
}

// LastLine returns the raw text of the most recently decoded line.
func (d *Decoder) LastLine() string {
	return string(d.last)
}
