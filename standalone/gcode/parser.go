package gcode

import (
	"errors"
	"strconv"

	"gopperplr/standalone"
)

var ErrLineTooLong = errors.New("gcode: line too long")

// MaxLineLength bounds a single command line
const MaxLineLength = 256

// textCommands take the rest of the line as a free-text argument
var textCommands = map[int]bool{
	23:  true, // select file
	28:  true, // begin write
	30:  true, // delete file
	117: true, // display message
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code
func (p *Parser) ParseLine(line string) (*standalone.GCodeCommand, error) {
	if len(line) == 0 {
		return nil, nil
	}
	if len(line) > MaxLineLength {
		return nil, ErrLineTooLong
	}

	cmd := &standalone.GCodeCommand{
		Subcode:    -1,
		Parameters: make(map[byte]float64),
	}

	i := 0
	// Skip whitespace
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}

	if i >= len(line) {
		return nil, nil
	}

	// Check for comment
	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = line[i:]
		return cmd, nil
	}

	// Parse command type (G, M, T)
	if i < len(line) && (line[i] == 'G' || line[i] == 'M' || line[i] == 'T' ||
		line[i] == 'g' || line[i] == 'm' || line[i] == 't') {
		cmd.Type = toUpper(line[i])
		i++

		// Parse command number
		num, newPos := parseInt(line, i)
		if newPos > i {
			cmd.Number = num
			i = newPos
		}

		// Parse dotted subcode (G92.9)
		if i+1 < len(line) && line[i] == '.' {
			sub, subPos := parseInt(line, i+1)
			if subPos > i+1 {
				cmd.Subcode = sub
				i = subPos
			}
		}

		if cmd.Type == 'M' && textCommands[cmd.Number] {
			cmd.Text, cmd.Comment = splitText(line[i:])
			return cmd, nil
		}
	}

	// Parse parameters
	for i < len(line) {
		// Skip whitespace
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}

		if i >= len(line) {
			break
		}

		// Check for comment
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			break
		}

		// Parse parameter letter
		if i < len(line) && isLetter(line[i]) {
			letter := toUpper(line[i])
			i++

			// Parse parameter value
			// A bare letter is a flag (G28 X) and reads as 0
			value, newPos := parseFloat(line, i)
			cmd.Parameters[letter] = value
			i = newPos
		} else {
			i++
		}
	}

	return cmd, nil
}

// splitText trims a free-text argument and separates a trailing comment
func splitText(s string) (text, comment string) {
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			text, comment = s[:i], s[i:]
			break
		}
	}
	if comment == "" {
		text = s
	}
	start, end := 0, len(text)
	for start < end && (text[start] == ' ' || text[start] == '\t') {
		start++
	}
	for end > start && (text[end-1] == ' ' || text[end-1] == '\t' || text[end-1] == '\r') {
		end--
	}
	return text[start:end], comment
}

// parseInt parses an integer from the string starting at pos
func parseInt(s string, pos int) (int, int) {
	if pos >= len(s) {
		return 0, pos
	}

	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	value := 0

	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}

	if pos == start {
		return 0, start - 1 // No digits found
	}

	if negative {
		value = -value
	}

	return value, pos
}

// parseFloat parses a floating-point number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	if pos >= len(s) {
		return 0, pos
	}

	begin := pos
	if s[pos] == '-' || s[pos] == '+' {
		pos++
	}

	digits := 0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		pos++
		digits++
	}
	if pos < len(s) && s[pos] == '.' {
		pos++
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			pos++
			digits++
		}
	}

	if digits == 0 {
		return 0, begin // No valid number found
	}

	value, err := strconv.ParseFloat(s[begin:pos], 64)
	if err != nil {
		return 0, begin
	}
	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
