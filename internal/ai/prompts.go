package ai

import (
	"fmt"
	"strings"

	"github.com/local/minutebook/internal/page"
)

// labelGuides describes what each default section looks like on paper.
// Labels outside this map are listed without a guide.
var labelGuides = map[string]string{
	"Articles & Amendments": `Often government-issued. Articles of incorporation list share classes,
corporate name, business number, share transfer restrictions and registered address.
Articles of amendment repeat only what changed. Articles of amalgamation describe two
merged entities. Articles of continuance move the corporation to another statute.`,
	"By Laws": `Internal rules of the corporation. The first page carries a "By-Law" or
"Règlement" heading, which is the strongest signal. Numbered paragraphs describing procedures.`,
	"Unanimous Shareholder Agreement": `Moves powers from the directors to the shareholders and
governs shareholder rights. Signed by every shareholder. The heading on its first page is the
strongest signal.`,
	"Minutes & Resolutions": `Catch-all section of many independent meeting minutes and written
resolutions. Usually the longest section of the book.`,
	"Directors Register": `Table, headed on the first or every page. Name, address, start date,
end date, optional residency.`,
	"Officers Register": `Table, headed on the first or every page. Name, address, start date,
end date, office held, optional residency.`,
	"Shareholder Register": `Table, headed on the first or every page. Name, address, start date,
end date, optional residency.`,
	"Securities Register": `Table with one page per shareholder and share class listing
issuances and transfers.`,
	"Share Certificates": `Landscape certificate citing the governing statute, with the number of
shares and the holder name repeated several times.`,
	"Ultimate Beneficial Owner Register": `Table with a heading, frequently referring to
ownership percentages.`,
}

func labelSection(labels page.LabelSet) string {
	var b strings.Builder
	for i, name := range labels.Names() {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
		if g, ok := labelGuides[name]; ok {
			for _, line := range strings.Split(g, "\n") {
				b.WriteString("   ")
				b.WriteString(strings.TrimSpace(line))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func quotedLabels(labels page.LabelSet) string {
	names := labels.Names()
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(q, ", ")
}

// TextPrompt is the instruction block sent before each block payload.
func TextPrompt(labels page.LabelSet) string {
	return fmt.Sprintf(`You classify the pages of corporate minute books written in French or English.

Each call gives you one JSON object:

{
  "targetInterval": { "startPageIndex": int, "endPageIndex": int },
  "pages": [
    { "pageIndex": int, "isTarget": bool, "isFinal": bool, "text": string, "finalLabel": string | null }
  ],
  "allowedLabels": [string]
}

Read the pages in ascending pageIndex order as one continuous document.
Pages with isTarget = false are context only and must not be labeled.
A page with isFinal = true carries a confirmed finalLabel. Use it as an anchor
but never assume its neighbours share it; a block may span several sections.

SECTION LABELS
%s
For every page with isTarget = true:
1. Choose the single allowed label that best describes the page's main function.
   Transitional pages take the label of their most substantial content.
2. Give a confidencePercent from 0 to 100. 100 means virtually certain, 50 means
   several plausible labels, below 40 means highly unsure.
3. Set isTextIncoherent to true if the page text is unreadable, garbled or empty.

Return a single JSON object and nothing else:

{
  "pagePredictions": [
    { "pageIndex": int, "label": string, "confidencePercent": int, "isTextIncoherent": bool }
  ]
}

Labels must match one of these exactly, without translation: %s.
Output exactly one entry per target page and none for context pages.`,
		labelSection(labels), quotedLabels(labels))
}

// VisionPrompt asks for a single label for one page image.
func VisionPrompt(labels page.LabelSet) string {
	return fmt.Sprintf(`This image is one page of a corporate minute book written in French or English.
Classify it into one of these sections:

%s
Labels must match one of these exactly: %s.

Return ONLY this JSON and nothing else:
{ "label": "<one of the allowed labels>", "confidencePercent": <0-100> }`,
		labelSection(labels), quotedLabels(labels))
}
