package httpx

// maxRequestLine bounds how far ParseRequestLine looks into a chunk.
const maxRequestLine = 8 * 1024

// Request is a request line observed on a relay connection.
type Request struct {
	Method string
	Path   string
}

// ParseRequestLine matches "<METHOD> <PATH>" at the very start of
// chunk: a run of word characters, one space, then a run of
// non-whitespace bytes.  Only the first maxRequestLine bytes are
// examined.  A request line split across reads is missed.
func ParseRequestLine(chunk []byte) (Request, bool) {
	if len(chunk) > maxRequestLine {
		chunk = chunk[:maxRequestLine]
	}
	i := 0
	for i < len(chunk) && isWord(chunk[i]) {
		i++
	}
	if i == 0 || i >= len(chunk) || chunk[i] != ' ' {
		return Request{}, false
	}
	method := string(chunk[:i])
	i++
	j := i
	for j < len(chunk) && !isSpace(chunk[j]) {
		j++
	}
	if j == i {
		return Request{}, false
	}
	return Request{Method: method, Path: string(chunk[i:j])}, true
}

func isWord(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}
