package parser

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Parser reads .http files. Requests and their >>> blocks are found line by
// line; expect and capture lines are tokenized with Lexer.
type Parser struct {
	file  string
	lines []string
	pos   int
}

func NewParser(input, filename string) *Parser {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	return &Parser{file: filename, lines: strings.Split(input, "\n")}
}

func ParseFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(content), path)
}

func Parse(input, filename string) (*File, error) {
	return NewParser(input, filename).Parse()
}

func (p *Parser) errorf(line int, format string, args ...any) error {
	return &ParseError{File: p.file, Line: line, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) eof() bool {
	return p.pos >= len(p.lines)
}

func (p *Parser) current() string {
	return strings.TrimSpace(p.lines[p.pos])
}

func (p *Parser) lineNo() int {
	return p.pos + 1
}

func (p *Parser) skipBlank() {
	for !p.eof() && p.current() == "" {
		p.pos++
	}
}

func (p *Parser) Parse() (*File, error) {
	file := &File{Path: p.file}

	for !p.eof() {
		line := p.current()
		switch {
		case line == "":
			p.pos++
		case isSeparator(line):
			if err := p.addRequest(file); err != nil {
				return nil, err
			}
		case isVariable(line):
			file.Variables = append(file.Variables, p.variable(line))
			p.pos++
		case isAnnotation(line):
			if err := p.addRequest(file); err != nil {
				return nil, err
			}
		case isComment(line):
			p.pos++
		case isRequestLine(line):
			if err := p.addRequest(file); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf(p.lineNo(), "unexpected %q outside a request", line)
		}
	}
	return file, nil
}

func (p *Parser) addRequest(file *File) error {
	req, err := p.parseRequest(file)
	if err != nil {
		return err
	}
	file.Requests = append(file.Requests, req)
	return nil
}

func (p *Parser) variable(line string) *Variable {
	name, value, _ := strings.Cut(strings.TrimPrefix(line, "@"), "=")
	return &Variable{
		Name:  strings.TrimSpace(name),
		Value: strings.TrimSpace(value),
		Line:  p.lineNo(),
	}
}

func (p *Parser) parseRequest(file *File) (*Request, error) {
	req := &Request{Metadata: &RequestMetadata{}, Line: p.lineNo()}

	// Preamble: one optional separator, annotations, comments and
	// variables, in any order.
	sawSeparator := false
preamble:
	for ; !p.eof(); p.pos++ {
		line := p.current()
		switch {
		case line == "":
		case isSeparator(line):
			if sawSeparator {
				return nil, p.errorf(p.lineNo(), "expected HTTP method, got %q", line)
			}
			sawSeparator = true
			if name := strings.TrimSpace(strings.TrimLeft(line, "#")); name != "" && req.Name == "" {
				req.Name = name
			}
		case isVariable(line):
			file.Variables = append(file.Variables, p.variable(line))
		case isAnnotation(line):
			name, value := splitAnnotation(line)
			if err := p.annotate(req, name, value); err != nil {
				return nil, err
			}
		case isComment(line):
		default:
			break preamble
		}
	}

	if p.eof() {
		return nil, p.errorf(req.Line, "expected HTTP method, got end of file")
	}
	method, target, ok := splitRequestLine(p.current())
	if !ok {
		return nil, p.errorf(p.lineNo(), "expected HTTP method, got %q", p.current())
	}
	req.Method = method
	req.URL = target
	p.pos++

	p.parseQueryParams(req)
	p.parseHeaders(req)

	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	req.Body = body

	if err := p.parseBlocks(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Parser) annotate(req *Request, name, value string) error {
	meta := req.Metadata
	switch strings.ToLower(name) {
	case "name":
		req.Name = value
	case "description":
		req.Description = value
	case "tags":
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.Tags = append(req.Tags, t)
			}
		}
	case "skip":
		meta.Skip = value
		if meta.Skip == "" {
			meta.Skip = "skipped"
		}
	case "timeout":
		d, err := parseMillis(value)
		if err != nil {
			return p.errorf(p.lineNo(), "invalid @timeout %q", value)
		}
		meta.Timeout = d
	case "repeat":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return p.errorf(p.lineNo(), "invalid @repeat %q", value)
		}
		meta.Repeat = n
	case "retry":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return p.errorf(p.lineNo(), "invalid @retry %q", value)
		}
		meta.Retry = n
	case "retrydelay":
		d, err := parseMillis(value)
		if err != nil {
			return p.errorf(p.lineNo(), "invalid @retryDelay %q", value)
		}
		meta.RetryDelay = d
	case "stream":
		switch strings.ToLower(value) {
		case "", "true":
			meta.Stream = true
		case "false":
			meta.Stream = false
		default:
			return p.errorf(p.lineNo(), "invalid @stream %q", value)
		}
	case "adapter":
		if value == "" {
			return p.errorf(p.lineNo(), "@adapter needs a name")
		}
		meta.Adapter = strings.ToLower(value)
	case "auth":
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return p.errorf(p.lineNo(), "@auth needs a scheme")
		}
		meta.Auth = &AuthConfig{Scheme: strings.ToLower(fields[0]), Params: fields[1:]}
	}
	// Unknown annotations are ignored.
	return nil
}

// parseMillis accepts a bare number of milliseconds or a Go duration.
func parseMillis(value string) (time.Duration, error) {
	if ms, err := strconv.Atoi(value); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

// parseQueryParams reads "? key = value" and "& key = value" lines that
// directly follow the request line.
func (p *Parser) parseQueryParams(req *Request) {
	for !p.eof() {
		line := p.current()
		if !strings.HasPrefix(line, "?") && !strings.HasPrefix(line, "&") {
			return
		}
		key, value := splitKeyValue(line[1:])
		if key != "" {
			req.QueryParams = append(req.QueryParams, &QueryParam{Key: key, Value: value, Line: p.lineNo()})
		}
		p.pos++
	}
}

func (p *Parser) parseHeaders(req *Request) {
	for !p.eof() {
		line := p.current()
		if line == "" || isSeparator(line) || isBlockStart(line) {
			return
		}
		if isComment(line) {
			p.pos++
			continue
		}
		key, value, ok := splitHeader(line)
		if !ok {
			return
		}
		req.Headers = append(req.Headers, &Header{Key: key, Value: value, Line: p.lineNo()})
		p.pos++
	}
}

func (p *Parser) parseBody() (*Body, error) {
	p.skipBlank()
	if p.eof() {
		return nil, nil
	}

	line := p.current()
	switch {
	case isSeparator(line), isVariable(line), isAnnotation(line), isRequestLine(line):
		return nil, nil
	case isBlockStart(line):
		switch blockLabel(line) {
		case "multipart":
			return p.parseMultipartBody()
		case "graphql":
			return p.parseGraphQLBody()
		}
		return nil, nil
	case strings.HasPrefix(line, "&"):
		return p.parseFormBlockBody(), nil
	}

	start := p.lineNo()
	var lines []string
	for !p.eof() {
		line := p.current()
		if isSeparator(line) || isBlockStart(line) {
			break
		}
		lines = append(lines, strings.TrimRight(p.lines[p.pos], " \t"))
		p.pos++
	}

	raw := strings.TrimSpace(strings.Join(lines, "\n"))
	if raw == "" {
		return nil, nil
	}
	body := &Body{Raw: raw, Line: start}
	switch {
	case strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "["):
		body.ContentType = BodyJSON
	case strings.HasPrefix(raw, "<"):
		body.ContentType = BodyXML
	case strings.Contains(raw, "=") && !strings.Contains(raw, "\n"):
		body.ContentType = BodyForm
		for _, pair := range strings.Split(raw, "&") {
			if key, value := splitKeyValue(pair); key != "" {
				body.Form = append(body.Form, &FormField{Name: key, Value: value})
			}
		}
	default:
		body.ContentType = BodyRaw
	}
	return body, nil
}

func (p *Parser) parseFormBlockBody() *Body {
	body := &Body{ContentType: BodyForm, Line: p.lineNo()}
	var pairs []string
	for !p.eof() {
		line := p.current()
		if line == "" {
			p.pos++
			continue
		}
		if !strings.HasPrefix(line, "&") {
			break
		}
		key, value := splitKeyValue(line[1:])
		if key != "" {
			body.Form = append(body.Form, &FormField{Name: key, Value: value})
			pairs = append(pairs, key+"="+value)
		}
		p.pos++
	}
	body.Raw = strings.Join(pairs, "&")
	return body
}

// blockLines returns the raw lines between a >>> line and its <<< line
// and moves past the <<<.
func (p *Parser) blockLines() (lines []string, first int, err error) {
	open := p.lineNo()
	label := blockLabel(p.current())
	p.pos++
	first = p.lineNo()
	for !p.eof() {
		line := p.current()
		if strings.HasPrefix(line, "<<<") {
			p.pos++
			return lines, first, nil
		}
		lines = append(lines, p.lines[p.pos])
		p.pos++
	}
	if label == "" {
		label = "assertion"
	}
	return nil, 0, p.errorf(open, "unterminated %s block", label)
}

func (p *Parser) parseMultipartBody() (*Body, error) {
	body := &Body{ContentType: BodyMultipart, Line: p.lineNo()}
	lines, first, err := p.blockLines()
	if err != nil {
		return nil, err
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || isComment(line) {
			continue
		}
		kind, rest, _ := strings.Cut(line, " ")
		name, value := splitKeyValue(rest)
		if name == "" {
			return nil, p.errorf(first+i, "multipart %s needs a name", kind)
		}
		switch strings.ToLower(kind) {
		case "field":
			body.Multipart = append(body.Multipart, &MultipartField{Type: MultipartFieldValue, Name: name, Value: value})
		case "file":
			path := strings.TrimSpace(strings.TrimPrefix(value, "@"))
			if path == "" {
				return nil, p.errorf(first+i, "multipart file %q needs a path", name)
			}
			body.Multipart = append(body.Multipart, &MultipartField{Type: MultipartFieldFile, Name: name, Path: path})
		default:
			return nil, p.errorf(first+i, "expected field or file, got %q", kind)
		}
	}
	return body, nil
}

func (p *Parser) parseGraphQLBody() (*Body, error) {
	body := &Body{ContentType: BodyGraphQL, GraphQL: &GraphQLBody{}, Line: p.lineNo()}
	lines, _, err := p.blockLines()
	if err != nil {
		return nil, err
	}
	body.GraphQL.Query = strings.TrimSpace(strings.Join(lines, "\n"))
	body.Raw = body.GraphQL.Query

	p.skipBlank()
	if !p.eof() && isBlockStart(p.current()) && blockLabel(p.current()) == "variables" {
		vars, _, err := p.blockLines()
		if err != nil {
			return nil, err
		}
		body.GraphQL.Variables = strings.TrimSpace(strings.Join(vars, "\n"))
	}
	return body, nil
}

func (p *Parser) parseBlocks(req *Request) error {
	for {
		for !p.eof() {
			line := p.current()
			if line != "" && !(isComment(line) && !isSeparator(line) && !isAnnotation(line)) {
				break
			}
			p.pos++
		}
		if p.eof() || !isBlockStart(p.current()) {
			return nil
		}

		switch label := blockLabel(p.current()); label {
		case "", "expect", "assert":
			lines, first, err := p.blockLines()
			if err != nil {
				return err
			}
			for i, line := range lines {
				a, err := p.parseAssertion(line, first+i)
				if err != nil {
					return err
				}
				if a != nil {
					req.Assertions = append(req.Assertions, a)
				}
			}
		case "capture":
			lines, first, err := p.blockLines()
			if err != nil {
				return err
			}
			for i, line := range lines {
				c, err := p.parseCapture(line, first+i)
				if err != nil {
					return err
				}
				if c != nil {
					req.Captures = append(req.Captures, c)
				}
			}
		default:
			return p.errorf(p.lineNo(), "unknown block %q", label)
		}
	}
}

func (p *Parser) parseAssertion(raw string, line int) (*Assertion, error) {
	text := strings.TrimSpace(raw)
	if text == "" || isComment(text) {
		return nil, nil
	}
	if kw, rest, ok := strings.Cut(text, " "); ok && strings.EqualFold(kw, "expect") {
		text = strings.TrimSpace(rest)
	}

	lx := NewLexer(text)
	subject := lx.ReadWord()
	if subject == "header" || subject == "jsonpath" {
		lx.SkipWhitespace()
		if arg := lx.ReadWord(); arg != "" {
			subject += " " + arg
		}
	}
	if subject == "" || subject == "expect" {
		return nil, p.errorf(line, "missing assertion subject")
	}

	a := &Assertion{Subject: subject, Operator: OpEquals, Line: line}

	lx.SkipWhitespace()
	if tok := lx.Peek(); tok.Type == TokenOperator {
		lx.NextToken()
		op, ok := ParseOperator(tok.Value)
		if !ok {
			return nil, p.errorf(line, "unknown operator: %s", tok.Value)
		}
		a.Operator = op
	}

	lx.SkipWhitespace()
	if !a.Operator.TakesValue() {
		if !lx.AtEOF() {
			return nil, p.errorf(line, "unexpected %q after %s", lx.RestFrom(lx.Mark()), a.Operator)
		}
		return a, nil
	}
	if lx.AtEOF() {
		return nil, p.errorf(line, "missing expected value for %s", subject)
	}

	expected, err := parseValue(lx)
	if err != nil {
		return nil, p.errorf(line, "%v", err)
	}
	lx.SkipWhitespace()
	if !lx.AtEOF() {
		return nil, p.errorf(line, "unexpected %q after expected value", lx.RestFrom(lx.Mark()))
	}
	a.Expected = expected
	return a, nil
}

// parseValue reads an expected value. Quoted strings, numbers, booleans,
// null and [arrays] are typed; anything else is the rest of the line.
func parseValue(lx *Lexer) (any, error) {
	mark := lx.Mark()
	tok := lx.NextToken()
	switch tok.Type {
	case TokenString:
		return tok.Literal, nil
	case TokenLeftBracket:
		return parseArray(lx)
	case TokenNumber, TokenBoolean, TokenNull:
		end := lx.Mark()
		lx.SkipWhitespace()
		if lx.AtEOF() {
			return scalar(tok), nil
		}
		lx.seek(end)
	case TokenEOF:
		return nil, fmt.Errorf("missing value")
	}
	return lx.RestFrom(mark), nil
}

func parseArray(lx *Lexer) ([]any, error) {
	arr := []any{}
	for {
		lx.SkipWhitespace()
		switch lx.Peek().Type {
		case TokenRightBracket:
			lx.NextToken()
			return arr, nil
		case TokenComma:
			lx.NextToken()
			continue
		case TokenEOF:
			return nil, fmt.Errorf("unterminated array")
		}

		mark := lx.Mark()
		tok := lx.NextToken()
		switch tok.Type {
		case TokenString:
			arr = append(arr, tok.Literal)
			continue
		case TokenLeftBracket:
			nested, err := parseArray(lx)
			if err != nil {
				return nil, err
			}
			arr = append(arr, nested)
			continue
		case TokenNumber, TokenBoolean, TokenNull:
			if atValueEnd(lx) {
				arr = append(arr, scalar(tok))
				continue
			}
		}
		lx.seek(mark)
		arr = append(arr, lx.ReadUntil(",]"))
	}
}

func atValueEnd(lx *Lexer) bool {
	switch lx.Peek().Type {
	case TokenEOF, TokenWhitespace, TokenComma, TokenRightBracket:
		return true
	}
	return false
}

func scalar(tok Token) any {
	switch tok.Type {
	case TokenNumber:
		if !strings.Contains(tok.Value, ".") {
			if i, err := strconv.Atoi(tok.Value); err == nil {
				return i
			}
		}
		if f, err := strconv.ParseFloat(tok.Value, 64); err == nil {
			return f
		}
		return tok.Value
	case TokenBoolean:
		return tok.Literal
	}
	return nil
}

func (p *Parser) parseCapture(raw string, line int) (*Capture, error) {
	text := strings.TrimSpace(raw)
	if text == "" || isComment(text) {
		return nil, nil
	}

	fields := strings.Fields(text)
	if len(fields) < 3 || !strings.EqualFold(fields[1], "from") {
		return nil, p.errorf(line, "expected \"<name> from <source>\", got %q", text)
	}
	c := &Capture{Name: fields[0], Line: line}
	source := strings.Join(fields[2:], " ")

	switch {
	case source == "status":
		c.Source = CaptureStatus
	case source == "duration":
		c.Source = CaptureDuration
	case strings.HasPrefix(source, "header "):
		c.Source = CaptureHeader
		c.Path = strings.TrimSpace(strings.TrimPrefix(source, "header"))
	case source == "header":
		return nil, p.errorf(line, "capture %s: header needs a name", c.Name)
	case source == "body":
		c.Source = CaptureBody
	case strings.HasPrefix(source, "body."):
		c.Source = CaptureBody
		c.Path = strings.TrimPrefix(source, "body.")
	case strings.HasPrefix(source, "body["):
		c.Source = CaptureBody
		c.Path = strings.TrimPrefix(source, "body")
	default:
		c.Source = CaptureBody
		c.Path = source
	}
	return c, nil
}

func isSeparator(line string) bool {
	return strings.HasPrefix(line, "###")
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//")
}

func isBlockStart(line string) bool {
	return strings.HasPrefix(line, ">>>")
}

func blockLabel(line string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, ">>>")))
}

// isVariable matches "@name = value".
func isVariable(line string) bool {
	rest, ok := strings.CutPrefix(line, "@")
	if !ok {
		return false
	}
	name, _, found := strings.Cut(rest, "=")
	name = strings.TrimSpace(name)
	return found && name != "" && isIdentifier(name)
}

// isAnnotation matches "@name value", "# @name value" and "// @name value".
func isAnnotation(line string) bool {
	if isSeparator(line) || isVariable(line) {
		return false
	}
	rest := stripCommentMarker(line)
	name, _ := splitAnnotation(rest)
	return strings.HasPrefix(rest, "@") && name != ""
}

func splitAnnotation(line string) (name, value string) {
	rest := strings.TrimPrefix(stripCommentMarker(line), "@")
	end := 0
	for end < len(rest) && (isLetter(rest[end]) || isDigit(rest[end]) || rest[end] == '-') {
		end++
	}
	return rest[:end], strings.TrimSpace(rest[end:])
}

func stripCommentMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "//"):
		line = line[2:]
	case strings.HasPrefix(line, "#") && !isSeparator(line):
		line = line[1:]
	}
	return strings.TrimSpace(line)
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isLetter(s[i]) && !isDigit(s[i]) && s[i] != '-' && s[i] != '.' {
			return false
		}
	}
	return s != ""
}

func isRequestLine(line string) bool {
	_, _, ok := splitRequestLine(line)
	return ok
}

// splitRequestLine parses "METHOD URL [HTTP/x.y]".
func splitRequestLine(line string) (method, target string, ok bool) {
	method, rest, found := strings.Cut(line, " ")
	if !found || !isHTTPMethod(method) {
		return "", "", false
	}
	target = strings.TrimSpace(rest)
	if i := strings.LastIndex(target, " HTTP/"); i > 0 {
		target = strings.TrimSpace(target[:i])
	}
	return method, target, target != ""
}

func isHTTPMethod(s string) bool {
	switch s {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "TRACE", "CONNECT":
		return true
	}
	return false
}

// splitHeader parses "Name: value". Name must be an RFC 7230 token.
func splitHeader(line string) (key, value string, ok bool) {
	key, value, found := strings.Cut(line, ":")
	if !found || key == "" {
		return "", "", false
	}
	for i := 0; i < len(key); i++ {
		if !isTokenChar(key[i]) {
			return "", "", false
		}
	}
	return key, strings.TrimSpace(value), true
}

func isTokenChar(c byte) bool {
	if isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

func splitKeyValue(s string) (key, value string) {
	key, value, _ = strings.Cut(s, "=")
	return strings.TrimSpace(key), strings.TrimSpace(value)
}
