package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/orneryd/redstream/pkg/data"
)

// ErrMalformedARFF is wrapped by every ARFF parse error.
var ErrMalformedARFF = errors.New("malformed arff")

// ReadARFFHeader parses the header section of an ARFF document and stops
// right after the @data line.
func ReadARFFHeader(sc *bufio.Scanner) (*data.Header, int, error) {
	var (
		relation string
		attrs    []data.Attribute
		line     int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "%") {
			continue
		}
		keyword, rest := splitKeyword(text)
		switch strings.ToLower(keyword) {
		case "@relation":
			relation = unquote(rest)
		case "@attribute":
			a, err := parseAttribute(rest)
			if err != nil {
				return nil, line, fmt.Errorf("%w: line %d: %v", ErrMalformedARFF, line, err)
			}
			attrs = append(attrs, a)
		case "@data":
			if len(attrs) == 0 {
				return nil, line, fmt.Errorf("%w: no attributes declared", ErrMalformedARFF)
			}
			return data.NewHeader(relation, attrs), line, nil
		default:
			return nil, line, fmt.Errorf("%w: line %d: unexpected %q", ErrMalformedARFF, line, keyword)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, line, err
	}
	return nil, line, fmt.Errorf("%w: missing @data section", ErrMalformedARFF)
}

func splitKeyword(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// unquote strips matching single or double quotes and resolves backslash
// escapes inside them.
func unquote(s string) string {
	if len(s) < 2 || (s[0] != '\'' && s[0] != '"') || s[len(s)-1] != s[0] {
		return s
	}
	inner := s[1 : len(s)-1]
	if !strings.ContainsRune(inner, '\\') {
		return inner
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

// splitFields splits s at commas outside quotes. A quote only opens at the
// start of a field. Fields are trimmed but keep their quotes.
func splitFields(s string) ([]string, error) {
	var (
		fields []string
		quote  byte
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case (c == '\'' || c == '"') && strings.TrimSpace(s[start:i]) == "":
			quote = c
		case c == ',':
			fields = append(fields, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	return append(fields, strings.TrimSpace(s[start:])), nil
}

// closingQuote returns the index of the quote closing the one at s[0], or
// -1.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case s[0]:
			return i
		}
	}
	return -1
}

func parseAttribute(s string) (data.Attribute, error) {
	var name, typ string
	if s != "" && (s[0] == '\'' || s[0] == '"') {
		end := closingQuote(s)
		if end < 0 {
			return data.Attribute{}, fmt.Errorf("unterminated attribute name")
		}
		name = unquote(s[:end+1])
		typ = strings.TrimSpace(s[end+1:])
	} else {
		name, typ = splitKeyword(s)
	}
	if name == "" || typ == "" {
		return data.Attribute{}, fmt.Errorf("attribute needs a name and a type")
	}
	if strings.HasPrefix(typ, "{") {
		if !strings.HasSuffix(typ, "}") {
			return data.Attribute{}, fmt.Errorf("unterminated nominal domain of %q", name)
		}
		raw, err := splitFields(typ[1 : len(typ)-1])
		if err != nil {
			return data.Attribute{}, fmt.Errorf("nominal domain of %q: %v", name, err)
		}
		values := make([]string, 0, len(raw))
		for _, v := range raw {
			values = append(values, unquote(v))
		}
		return data.Nominal(name, values...), nil
	}
	switch strings.ToLower(typ) {
	case "numeric", "real", "integer":
		return data.Numeric(name), nil
	}
	return data.Attribute{}, fmt.Errorf("unsupported type %q of %q", typ, name)
}

// ParseARFFInstance parses one data line against h. Missing values ("?")
// become NaN.
func ParseARFFInstance(h *data.Header, text string) (*data.Instance, error) {
	if strings.HasPrefix(text, "{") {
		return nil, fmt.Errorf("%w: sparse instances are not supported", ErrMalformedARFF)
	}
	fields, err := splitFields(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedARFF, err)
	}
	if len(fields) != h.NumAttributes() {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedARFF, h.NumAttributes(), len(fields))
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		if f == "?" {
			values[i] = math.NaN()
			continue
		}
		f = unquote(f)
		a := h.Attribute(i)
		if a.IsNominal() {
			idx := a.IndexOf(f)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %q is not a value of %q", ErrMalformedARFF, f, a.Name)
			}
			values[i] = float64(idx)
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %q: %v", ErrMalformedARFF, a.Name, err)
		}
		values[i] = v
	}
	return data.NewInstance(h, values), nil
}

// WriteARFF writes h followed by every instance of s to w.
func WriteARFF(w io.Writer, h *data.Header, s Stream) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n@data\n", h.String()); err != nil {
		return err
	}
	for s.HasMoreInstances() {
		inst, err := s.NextInstance()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(bw, inst.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FileOption configures a FileStream.
type FileOption func(*FileStream)

// WithClassIndex marks attribute idx as the class attribute.
func WithClassIndex(idx int) FileOption {
	return func(f *FileStream) { f.classIndex = idx }
}

// WithLimit stops the stream after n instances; n <= 0 means no limit.
func WithLimit(n int64) FileOption {
	return func(f *FileStream) { f.limit = n }
}

// FileStream reads instances from an ARFF file.
type FileStream struct {
	path       string
	classIndex int
	limit      int64

	file    *os.File
	scanner *bufio.Scanner
	header  *data.Header
	line    int
	next    *data.Instance
	nextErr error
	emitted int64
	total   int64
}

// NewFileStream creates a stream over the ARFF file at path.
func NewFileStream(path string, opts ...FileOption) *FileStream {
	f := &FileStream{path: path, classIndex: -1}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Init opens the file, parses its header and counts the data lines.
func (f *FileStream) Init() error {
	if err := f.open(); err != nil {
		return err
	}
	total, err := f.countInstances()
	if err != nil {
		return err
	}
	f.total = total
	if f.limit > 0 && f.limit < f.total {
		f.total = f.limit
	}
	return f.open()
}

func (f *FileStream) open() error {
	f.Close()
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	h, line, err := ReadARFFHeader(sc)
	if err != nil {
		file.Close()
		return fmt.Errorf("%s: %w", f.path, err)
	}
	if f.classIndex >= h.NumAttributes() {
		file.Close()
		return fmt.Errorf("%s: class index %d out of range", f.path, f.classIndex)
	}
	if f.classIndex >= 0 {
		h = h.WithClassIndex(f.classIndex)
	}
	f.file, f.scanner, f.header, f.line = file, sc, h, line
	f.emitted = 0
	f.advance()
	return nil
}

func (f *FileStream) countInstances() (int64, error) {
	var n int64
	for f.next != nil {
		n++
		f.advance()
	}
	return n, f.nextErr
}

func (f *FileStream) advance() {
	f.next, f.nextErr = nil, nil
	for f.scanner.Scan() {
		f.line++
		text := strings.TrimSpace(f.scanner.Text())
		if text == "" || strings.HasPrefix(text, "%") {
			continue
		}
		inst, err := ParseARFFInstance(f.header, text)
		if err != nil {
			f.nextErr = fmt.Errorf("%s: line %d: %w", f.path, f.line, err)
			return
		}
		f.next = inst
		return
	}
	f.nextErr = f.scanner.Err()
}

func (f *FileStream) HasMoreInstances() bool {
	if f.scanner == nil || (f.limit > 0 && f.emitted >= f.limit) {
		return false
	}
	return f.next != nil || f.nextErr != nil
}

func (f *FileStream) NextInstance() (*data.Instance, error) {
	if f.scanner == nil {
		return nil, ErrNotInitialized
	}
	if !f.HasMoreInstances() {
		return nil, ErrExhausted
	}
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	inst := f.next
	f.emitted++
	f.advance()
	return inst, nil
}

func (f *FileStream) Header() *data.Header { return f.header }

func (f *FileStream) RandomVariables() []data.RandomVariable {
	if f.header == nil {
		return nil
	}
	return data.RandomVariables(f.header)
}

func (f *FileStream) NumberOfInstances() int64 { return f.total }

func (f *FileStream) Restart() error { return f.open() }

// Close releases the underlying file.
func (f *FileStream) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file, f.scanner = nil, nil
	return err
}
