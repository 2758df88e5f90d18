package generator

import (
	"fmt"
	"strings"

	"github.com/shop1gableo-creator/dropetsy-studio/pkg/domain"
)

const (
	identityPreamble = "SUBJECT: Keep the EXACT object from the reference. Branding and shape must be 100% accurate. SCENE: "
	preservePreamble = "**IN-AND-OUT MODE**: Ensure zero drift on the product. SCENE: "
	referenceSuffix  = ". Hyper-realistic, professional lighting, natural environment, extremely detailed, 8k, realistic to death."
	plainSuffix      = ". Ultra-realistic professional photography."

	autoStyleDirective = "ANALYZE PRODUCT FIRST: Detect product category and materials. " +
		"CREATE CONTEXT: Design an environment that is realistic to death. " +
		"Atmospheric, logical, high-end lifestyle settings only. Use descriptors like \"natural sunlight\", \"soft window bokeh\", " +
		"\"organic high-end home\", or \"authentic street texture\". Avoid sterile AI backgrounds. " +
		"Ensure the product feels integrated into a real space. Cinematic hyper-realism."
)

// imagePrompt は画像生成用のテキストパーツを組み立てます。
func imagePrompt(req domain.ImageGenerationRequest) string {
	if len(req.References) == 0 {
		return stripAsterisks(req.Prompt + plainSuffix)
	}
	preamble := identityPreamble
	if req.PreserveIdentity {
		preamble = preservePreamble
	}
	return stripAsterisks(preamble + req.Prompt + referenceSuffix)
}

func draftPrompt(req domain.PromptDraftRequest) string {
	style := strings.TrimSpace(req.StyleDirectives)
	if style == "" {
		style = autoStyleDirective
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a world-class professional product photographer. Generate exactly %d unique image prompts for the product in the reference.\n\n", req.Count)
	sb.WriteString("**CORE RULES:**\n")
	sb.WriteString("1. **PRODUCT IDENTITY**: The subject MUST remain 100% identical. Every logo, texture, and shape.\n")
	sb.WriteString("2. **REALISM**: Backgrounds must be ultra-realistic, cinematic, and professional.\n")
	sb.WriteString("3. **VARIETY**: Use different angles (45°, flatlay, macro, lifestyle, eye-level).\n")
	fmt.Fprintf(&sb, "4. **CONTEXT**: %s.\n", style)
	fmt.Fprintf(&sb, "5. **FORMAT**: Just %d lines of plain text. NO BOLD. NO ASTERISKS.", req.Count)

	if req.PreserveIdentity {
		sb.WriteString("\n\n**IN-AND-OUT PROTOCOL**: Preserve pixel-perfect branding and silhouette.")
	}
	if brand := strings.TrimSpace(req.BrandContext); brand != "" {
		fmt.Fprintf(&sb, "\n\n**BRAND CONTEXT**: %s.", brand)
	}
	if instr := strings.TrimSpace(req.Instruction); instr != "" {
		fmt.Fprintf(&sb, "\n\n**USER CUSTOMIZATION**: %s.", instr)
	}

	product := "Preserve reference identity"
	if req.ProductContext != nil && strings.TrimSpace(*req.ProductContext) != "" {
		product = strings.TrimSpace(*req.ProductContext)
	}
	fmt.Fprintf(&sb, "\n\nProduct Name/Context: %s", product)
	return sb.String()
}

const listingInstruction = `You are an Elite Etsy SEO Expert. Generate a 100% optimized listing in JSON: {"title": "...", "description": "...", "tags": "...", "category": "..."}.

**TASK:**
1. **EXCEPTIONAL SEO TITLE**: Max 140 chars. Use high-volume keywords. Include variants (colors/sizes) if provided by the user.
2. **USER CONTEXT INTEGRATION (CRITICAL)**: Use the provided text to mention ALL color options and technical variations.
3. **DEEP RESEARCH**: Use Google Search to find this product and extract real technical specs (Materials, Sizes, Weight).
4. **STORYTELLING & SPECS**: 2 paragraphs of evocative storytelling, a "TECHNICAL DETAILS" section, and a "--- FREQUENTLY ASKED QUESTIONS ---" section at the end.
5. **FLUID FAQ**: NO "Q:" or "A:". Question clearly stated, followed by conversational answer.
6. **13 TAGS**: Exactly 13 high-value Etsy tags based on trending search terms.
7. **FORMAT**: Clean JSON, no markdown syntax in values.`

func listingPrompt(req domain.ListingDraftRequest) string {
	extra := strings.TrimSpace(req.ExtraContext)
	if extra == "" {
		extra = "No extra details"
	}
	return listingInstruction + "\nUSER PROVIDED SPECIFIC DETAILS: " + extra
}
