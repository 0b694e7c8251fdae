package dispatch

import (
	"fmt"

	"github.com/albertbausili/sluice/internal/h1"
)

// upgradePlaceholder is the body carried by the framed payload after the 101.
const upgradePlaceholder = "test"

var upgradeHeaders = [][2]string{
	{"Connection", "upgrade"},
	{"Upgrade", "h2c"},
}

// upgrade writes the h2c switching-protocols response followed by one framed
// placeholder body. The write is final; the connection stays open.
func (p *Pipeline) upgrade(w ResponseWriter) error {
	framed, err := p.frames.Wrap([]byte(upgradePlaceholder))
	if err != nil {
		return fmt.Errorf("frame upgrade body: %w", err)
	}
	if err := w.Send(appendUpgrade(nil, framed), true); err != nil {
		return h1.WrapIO(err)
	}
	return nil
}

func appendUpgrade(dst, framed []byte) []byte {
	dst = append(dst, "HTTP/1.1 101 "...)
	dst = append(dst, h1.StatusText(101)...)
	dst = append(dst, "\r\n"...)
	for _, h := range upgradeHeaders {
		dst = append(dst, h[0]...)
		dst = append(dst, ": "...)
		dst = append(dst, h[1]...)
		dst = append(dst, "\r\n"...)
	}
	dst = append(dst, "\r\n"...)
	return append(dst, framed...)
}
