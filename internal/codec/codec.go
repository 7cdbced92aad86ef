package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Format 是显示/输入格式标签
type Format string

const (
	FormatASCII   Format = "ascii"
	FormatHex     Format = "hex"
	FormatBinary  Format = "binary"
	FormatDecimal Format = "decimal"
	FormatMixed   Format = "mixed" // 仅用于显示，不支持反向解码
)

// ParseFormat 把配置里的格式名转成 Format
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatASCII, FormatHex, FormatBinary, FormatDecimal, FormatMixed:
		return Format(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown display format %q", s)
}

// DecodeError 描述一次解码失败：出错的 token 及其在输入中的偏移。
// 解码失败不产出部分结果。
type DecodeError struct {
	Format Format
	Token  string
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s at offset %d: %s", e.Format, strconv.Quote(e.Token), e.Offset, e.Reason)
}

// Encode 把字节序列编码成指定格式的文本
func Encode(data []byte, f Format) (string, error) {
	switch f {
	case FormatASCII:
		return encodeASCII(data), nil
	case FormatHex:
		return encodeHex(data), nil
	case FormatBinary:
		return encodeBinary(data), nil
	case FormatDecimal:
		return encodeDecimal(data), nil
	case FormatMixed:
		return encodeMixed(data), nil
	}
	return "", fmt.Errorf("unknown display format %q", f)
}

// Decode 把文本按指定格式还原成字节序列。
// Mixed 为纯显示格式，调用 Decode 返回 DecodeError。
func Decode(text string, f Format) ([]byte, error) {
	switch f {
	case FormatASCII:
		return decodeASCII(text)
	case FormatHex:
		return decodeHex(text)
	case FormatBinary:
		return decodeBinary(text)
	case FormatDecimal:
		return decodeDecimal(text)
	case FormatMixed:
		return nil, &DecodeError{Format: FormatMixed, Reason: "mixed format is display-only"}
	}
	return nil, fmt.Errorf("unknown display format %q", f)
}

// -------------------- ASCII --------------------

// 不可打印字节用反斜杠转义输出（\n \r \t \xNN），反斜杠本身写成 \\，
// 因此 decodeASCII(encodeASCII(b)) == b 恒成立
func encodeASCII(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		switch {
		case b == '\\':
			sb.WriteString(`\\`)
		case b == '\n':
			sb.WriteString(`\n`)
		case b == '\r':
			sb.WriteString(`\r`)
		case b == '\t':
			sb.WriteString(`\t`)
		case b >= 0x20 && b <= 0x7E:
			sb.WriteByte(b)
		default:
			sb.WriteString(fmt.Sprintf(`\x%02X`, b))
		}
	}
	return sb.String()
}

func decodeASCII(text string) ([]byte, error) {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); {
		c := text[i]
		if c != '\\' {
			if c > 0x7F {
				return nil, &DecodeError{Format: FormatASCII, Token: string(text[i]), Offset: i, Reason: "non-ASCII character"}
			}
			out = append(out, c)
			i++
			continue
		}
		if i+1 >= len(text) {
			return nil, &DecodeError{Format: FormatASCII, Token: `\`, Offset: i, Reason: "dangling escape"}
		}
		switch text[i+1] {
		case '\\':
			out = append(out, '\\')
			i += 2
		case 'n':
			out = append(out, '\n')
			i += 2
		case 'r':
			out = append(out, '\r')
			i += 2
		case 't':
			out = append(out, '\t')
			i += 2
		case 'x':
			if i+4 > len(text) {
				return nil, &DecodeError{Format: FormatASCII, Token: text[i:], Offset: i, Reason: "truncated \\x escape"}
			}
			v, err := strconv.ParseUint(text[i+2:i+4], 16, 8)
			if err != nil {
				return nil, &DecodeError{Format: FormatASCII, Token: text[i : i+4], Offset: i, Reason: "invalid \\x escape"}
			}
			out = append(out, byte(v))
			i += 4
		default:
			return nil, &DecodeError{Format: FormatASCII, Token: text[i : i+2], Offset: i, Reason: "unknown escape"}
		}
	}
	return out, nil
}

// -------------------- HEX --------------------

func encodeHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// decodeHex 接受空白分隔或连写的十六进制对，
// 奇数个 nibble 或非十六进制字符报错
func decodeHex(text string) ([]byte, error) {
	var out []byte
	var nibbles []byte
	start := -1
	flush := func(end int) error {
		if len(nibbles) == 0 {
			return nil
		}
		if len(nibbles)%2 != 0 {
			return &DecodeError{Format: FormatHex, Token: text[start:end], Offset: start, Reason: "odd number of hex digits"}
		}
		for i := 0; i < len(nibbles); i += 2 {
			out = append(out, nibbles[i]<<4|nibbles[i+1])
		}
		nibbles = nibbles[:0]
		start = -1
		return nil
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' {
			if err := flush(i); err != nil {
				return nil, err
			}
			continue
		}
		v, ok := hexNibble(c)
		if !ok {
			return nil, &DecodeError{Format: FormatHex, Token: string(c), Offset: i, Reason: "not a hex digit"}
		}
		if start < 0 {
			start = i
		}
		nibbles = append(nibbles, v)
	}
	if err := flush(len(text)); err != nil {
		return nil, err
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// -------------------- Binary --------------------

func encodeBinary(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%08b", b)
	}
	return strings.Join(parts, " ")
}

// decodeBinary 要求每个 token 的位数是 8 的整数倍，且只含 0/1
func decodeBinary(text string) ([]byte, error) {
	var out []byte
	for _, tok := range tokenize(text) {
		if len(tok.s)%8 != 0 {
			return nil, &DecodeError{Format: FormatBinary, Token: tok.s, Offset: tok.off, Reason: "bit count is not a multiple of 8"}
		}
		for i := 0; i < len(tok.s); i += 8 {
			var b byte
			for j := 0; j < 8; j++ {
				switch tok.s[i+j] {
				case '0':
					b <<= 1
				case '1':
					b = b<<1 | 1
				default:
					return nil, &DecodeError{Format: FormatBinary, Token: tok.s, Offset: tok.off, Reason: "not a binary digit"}
				}
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// -------------------- Decimal --------------------

func encodeDecimal(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, " ")
}

// decodeDecimal 每个 token 必须是 [0,255] 的十进制数
func decodeDecimal(text string) ([]byte, error) {
	var out []byte
	for _, tok := range tokenize(text) {
		v, err := strconv.Atoi(tok.s)
		if err != nil {
			return nil, &DecodeError{Format: FormatDecimal, Token: tok.s, Offset: tok.off, Reason: "not a decimal number"}
		}
		if v < 0 || v > 255 {
			return nil, &DecodeError{Format: FormatDecimal, Token: tok.s, Offset: tok.off, Reason: "out of byte range [0,255]"}
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// -------------------- Mixed (hex + ASCII) --------------------

const mixedBytesPerLine = 16

// encodeMixed 输出 hex 编辑器风格：偏移 | 十六进制 | ASCII
func encodeMixed(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var lines []string
	for i := 0; i < len(data); i += mixedBytesPerLine {
		end := i + mixedBytesPerLine
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		hexPart := encodeHex(chunk)
		asciiPart := make([]byte, len(chunk))
		for j, b := range chunk {
			if b >= 0x20 && b <= 0x7E {
				asciiPart[j] = b
			} else {
				asciiPart[j] = '.'
			}
		}
		lines = append(lines, fmt.Sprintf("%08X | %-*s | %s", i, mixedBytesPerLine*3-1, hexPart, asciiPart))
	}
	return strings.Join(lines, "\n")
}

// -------------------- 工具 --------------------

type token struct {
	s   string
	off int
}

func tokenize(text string) []token {
	var toks []token
	start := -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' {
			if start >= 0 {
				toks = append(toks, token{text[start:i], start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{text[start:], start})
	}
	return toks
}
