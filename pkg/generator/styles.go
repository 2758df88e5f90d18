package generator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStyle は定義されていないスタイルプリセットを示します。
var ErrUnknownStyle = errors.New("unknown style preset")

// styleSeparator はプリセットを複数選んだときの区切りです。
const styleSeparator = " | NEXT STYLE: "

// StylePreset はプロンプト起草時に選べる空間演出のプリセットです。
type StylePreset struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// StylePresets は選択可能なプリセットの一覧です。
var StylePresets = []StylePreset{
	{
		ID:     "premium_luxury",
		Label:  "Premium Luxury",
		Prompt: "A high-end luxury lounge featuring polished white Calacatta marble floors with deep grey veining. Accents of brushed gold on the furniture legs and wall moldings. Large floor-to-ceiling windows showing a sunset city skyline. Soft ambient warm lighting, cinematic composition, 8k resolution, elegant and opulent.",
	},
	{
		ID:     "natural_wood",
		Label:  "Natural Wood & Organic Earth",
		Prompt: "An interior space focused on biophilic design. Raw oak wooden beams, walls with a clay-plaster texture, and oversized terracotta vases. Plenty of indoor greenery and olive trees. Soft, natural sunlight filtering through linen curtains, earthy tones, wabi-sabi aesthetic, serene and grounded.",
	},
	{
		ID:     "minimalist_studio",
		Label:  "High-End Minimalist Studio",
		Prompt: "An ultra-minimalist photography studio, monochromatic white-on-white. Architectural curves, a single designer chair in the center, sharp shadows, and high contrast. Empty space as a luxury, museum-like atmosphere, crisp lines, professional studio lighting.",
	},
	{
		ID:     "urban_industrial",
		Label:  "Urban Industrial & Concrete",
		Prompt: "A spacious loft with polished concrete walls and exposed steel pipes. Large black-framed Crittall windows. A cognac leather sofa and a reclaimed wood coffee table. Cold daylight, gritty but sophisticated, architectural photography, urban textures.",
	},
	{
		ID:     "dark_academia",
		Label:  "Dark Academia & Moody",
		Prompt: "A private library at night. Dark walnut bookshelves filled with old leather-bound books. A single desk lamp casting a warm glow on a velvet green chair. Heavy shadows, mahogany wood, intellectual and mysterious atmosphere, cinematic moody lighting.",
	},
	{
		ID:     "japandi",
		Label:  "Japandi (Wood & White)",
		Prompt: "A peaceful fusion of Japanese and Scandinavian design. Light ash wood furniture, low-profile bed, sliding shoji-style screens, and off-white textured walls. Minimalist decor, balanced composition, soft diffused light, Zen feeling.",
	},
	{
		ID:     "neo_vintage",
		Label:  "Neo-Vintage & Brass",
		Prompt: `A boutique hotel lobby with a "New Retro" vibe. Mid-century modern furniture, velvet upholstery in teal and mustard, and ornate brass light fixtures. Art deco patterns, rich colors, nostalgic yet modern, high-end craftsmanship.`,
	},
	{
		ID:     "glass_transparency",
		Label:  "Glass & Transparency",
		Prompt: "A futuristic glass pavilion in a forest. Transparent walls reflecting the surrounding trees. Ghost chairs made of acrylic, glass tables, and layered transparency. Play of light and reflections, ethereal, airy, and ultra-modern.",
	},
	{
		ID:     "soft_editorial",
		Label:  "Soft Editorial (Linen & Light)",
		Prompt: `A close-up editorial shot of a cream linen sofa. Soft morning light creating a "dreamy" haze. Beige tones, crumpled natural fabrics, dried pampas grass in the background. Calm, tactile, lifestyle photography, high-end magazine aesthetic.`,
	},
	{
		ID:     "matte_black_tech",
		Label:  "Matte Black & Tech Night",
		Prompt: "A high-tech home office at night. Matte black walls, a clean carbon-fiber desk, and subtle purple and blue LED accent strips. A cozy ergonomic chair, rain on the window, lofi-beats atmosphere, sleek, stealthy, and futuristic.",
	},
}

// LookupStyle は ID に対応するプリセットを返します。
func LookupStyle(id string) (StylePreset, bool) {
	for _, p := range StylePresets {
		if p.ID == id {
			return p, true
		}
	}
	return StylePreset{}, false
}

// styleDirective は選択されたプリセットを選択順に連結します。ids が空なら空文字です。
func styleDirective(ids []string) (string, error) {
	prompts := make([]string, 0, len(ids))
	for _, id := range ids {
		p, ok := LookupStyle(strings.TrimSpace(id))
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownStyle, id)
		}
		prompts = append(prompts, p.Prompt)
	}
	return strings.Join(prompts, styleSeparator), nil
}
