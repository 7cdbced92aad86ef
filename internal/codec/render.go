package codec

import (
	"fmt"
	"sync"
)

// Renderer 把一段原始字节渲染成某种显示文本。
// 核心只产出数据，具体显示变体通过注册表按格式标签选择，
// 外部协作方也可以注册自己的 Renderer。
type Renderer interface {
	Format() Format
	Render(data []byte) string
}

var (
	regMu    sync.RWMutex
	registry = make(map[Format]Renderer)
)

// Register 注册（或覆盖）某格式的渲染器
func Register(r Renderer) {
	regMu.Lock()
	registry[r.Format()] = r
	regMu.Unlock()
}

// RendererFor 取出某格式的渲染器
func RendererFor(f Format) (Renderer, error) {
	regMu.RLock()
	r, ok := registry[f]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no renderer registered for format %q", f)
	}
	return r, nil
}

// Formats 返回已注册的全部格式标签
func Formats() []Format {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	return out
}

// encodeRenderer 直接复用 Encode 的内置实现
type encodeRenderer struct {
	format Format
}

func (r encodeRenderer) Format() Format { return r.format }

func (r encodeRenderer) Render(data []byte) string {
	s, _ := Encode(data, r.format)
	return s
}

func init() {
	for _, f := range []Format{FormatASCII, FormatHex, FormatBinary, FormatDecimal, FormatMixed} {
		Register(encodeRenderer{format: f})
	}
}
