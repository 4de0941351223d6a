package devserver

import (
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"strings"

	"svgstudio/internal/domain"
)

var palettes = [][3]string{
	{"#264653", "#2a9d8f", "#e9c46a"},
	{"#3d5a80", "#98c1d9", "#ee6c4d"},
	{"#6d597a", "#b56576", "#eaac8b"},
	{"#1b4332", "#52b788", "#d8f3dc"},
	{"#22223b", "#4a4e69", "#c9ada7"},
}

// renderSVG draws deterministic placeholder markup for a job: the same
// prompt and style always give the same picture.
func renderSVG(job domain.Job) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(job.Prompt)))
	sum := h.Sum32()
	p := palettes[int(sum%uint32(len(palettes)))]

	fill, stroke, strokeWidth := p[1], "none", 0
	switch job.Style {
	case "line-art", "outline":
		fill, stroke, strokeWidth = "none", p[0], 6
	case "hand-drawn":
		stroke, strokeWidth = p[0], 3
	}

	cx := 96 + int(sum>>8)%64
	cy := 96 + int(sum>>16)%64
	r := 40 + int(sum>>24)%40

	var title strings.Builder
	_ = xml.EscapeText(&title, []byte(job.Prompt))

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 256 256" width="256" height="256">`)
	fmt.Fprintf(&b, `<title>%s</title>`, title.String())
	if job.Style == "gradient" {
		fmt.Fprintf(&b, `<defs><linearGradient id="g" x1="0" y1="0" x2="1" y2="1"><stop offset="0" stop-color="%s"/><stop offset="1" stop-color="%s"/></linearGradient></defs>`, p[1], p[2])
		fill = "url(#g)"
	}
	fmt.Fprintf(&b, `<rect width="256" height="256" fill="%s"/>`, p[2])
	fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s" stroke="%s" stroke-width="%d"/>`, cx, cy, r, fill, stroke, strokeWidth)
	if job.Style == "isometric" {
		fmt.Fprintf(&b, `<path d="M128 40 L208 86 L128 132 L48 86 Z" fill="%s" opacity="0.8"/>`, p[0])
	} else {
		fmt.Fprintf(&b, `<rect x="40" y="176" width="176" height="24" rx="12" fill="%s"/>`, p[0])
	}
	b.WriteString(`</svg>`)
	return b.String()
}
