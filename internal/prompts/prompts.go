// Package prompts holds the tuned prompt templates for the vision model.
// The wording is load-bearing: it was iterated against real document sets,
// so treat the strings as opaque and keep edits behind regression review.
package prompts

import (
    "fmt"
    "strings"

    "github.com/local/ocrworker/internal/task"
)

// HTMLSystem primes the model for layout extraction.
const HTMLSystem = "You are a precise document layout extractor. Output ONLY valid HTML with tight data-bbox attributes."

// HTMLUser returns the layout-extraction prompt for a detected language.
func HTMLUser(language string) string {
    return fmt.Sprintf(`You are a visual-layout expert. Parse this document and extract text with TIGHT BOUNDING BOXES + FONT CLASSIFICATION at the LINE LEVEL.

Language: %s

CRITICAL RULES (1st-Principle + Font-Aware):
1. Every text element MUST be at the individual line level—do NOT merge multiple lines into one element, even if they form a paragraph. Provide a separate span for each visual horizontal line of text.
   - For multi-line paragraphs, output each line as its own <span> with a unique tight bbox.
   - If a line wraps or has natural breaks, treat as separate lines based on visual baselines.

2. Every element MUST have:
   - data-bbox="x1 y1 x2 y2" (normalized 0-1000 scale, 0,0=top-left)—tightly around the line's ink only, NO extra vertical padding for line spacing.
   - data-font="type" (font classification - see below)

3. Format: <span class="type" data-bbox="x1 y1 x2 y2" data-font="mono">exact text of the line</span>
   - Do NOT insert <br> or placeholders; each line is independent.

4. **TIGHT BOUNDING BOXES** (Critical for Lines):
   - Top (y1): Top of tallest ascender in the line (e.g., 'h', 'b').
   - Bottom (y2): Bottom of lowest descender in the line (e.g., 'g', 'p').
   - Left (x1): Left edge of leftmost character.
   - Right (x2): Right edge of rightmost character.
   - Box per line only—NO block boxes for paragraphs.
   - Include bounding boxes for even the smallest or isolated text elements, such as single digits or characters in table cells.

5. **FONT CLASSIFICATION** (New - Critical for character width):
   Classify the font style with ONE of these tags for data-font:
   - "mono"  → fixed-width, every glyph same width (typical receipt printers, code)
   - "sans"  → proportional sans-serif (Helvetica, Arial, clean modern fonts)
   - "serif" → proportional serif (Times, Georgia, fonts with tails/feet)
   - "hand"  → hand-written or cursive appearance
   - "other" → anything else / uncertain

   Examples:
   - Receipt text with aligned columns → data-font="mono"
   - Modern invoice headers → data-font="sans"
   - Old contract text → data-font="serif"
   - Signature or cursive → data-font="hand"

6. **TEXT PRESERVATION**:
   - Extract VERBATIM text per line—NO merging, NO rewrapping.
   - Preserve ALL hyphens, numbers, punctuation as seen.
   - Accurately recognize digits vs letters: e.g., '0' as zero (not 'o' or 'O'), especially in numerical values, tables, and mono fonts.
   - Do not skip or ignore small, isolated, or single-character text; extract every visible character, including standalone digits in tables or forms.
   - Do NOT "fix" or reformat anything.

7. **Special elements**:
   - Checkboxes: [x] if checked, [ ] if unchecked
   - Tables: Each cell line separately (not entire table)
   - In tables, prioritize numerical accuracy for cell values—treat isolated characters as digits if context suggests (e.g., line totals as '0' not 'o').
   - For tables and forms, extract all cell contents explicitly, even if they are single digits, zeros, or appear isolated in columns—treat them as separate text elements with tight bboxes.

Classes (for semantic context only):
- title: Large headings
- header: Section headers
- label: Form labels
- value: Form values
- text: Regular text
- small: Fine print

Extract EVERY line of text with TIGHT line-level bounding boxes AND font classification (no padding, no line spacing). Output ONLY the HTML spans—NO extra text or wrappers.`, language)
}

// JSONSystem primes the model for key-value extraction.
const JSONSystem = "You are an expert forensic document reader. Extract key-value pairs with perfect fidelity."

// JSONUser is the generic key-value extraction prompt.
const JSONUser = `You are an expert forensic document reader working for a global archiving & compliance team.
You process millions of scanned invoices, receipts, delivery notes, contracts, ID cards, bank statements and forms in any language, handwriting, and layout.

Your only job right now:
1. Instantly recognise what kind of document this is.
2. Extract every single visible key–value pair with 100 % fidelity.

You are multilingual by birth and never translate or rephrase anything.

Output exactly this JSON and nothing else — no markdown, no explanations, no extra text:

{
  "document_type": "invoice",
  "extracted_pairs": [
    {"key": "Rechnungsnummer:", "value": "2025-98765"},
    {"key": "Datum:", "value": "21.11.2025"},
    {"key": "Gesamtbetrag:", "value": "1.234,56 €"},
    {"key": "IBAN:", "value": "DE89 3704 0044 0532 0130 00"},
    {"key": "Kundennummer", "value": "K-445566"},
    ...
  ]
}

Rules you never break:
- document_type = one short lowercase English word (invoice / receipt / delivery_note / bank_statement / id_card / contract / form / certificate / letter / other)
- If unsure → "form"
- key = copied character-perfect from the page (language, case, punctuation, colon yes/no)
- value = everything that visually belongs to that key; if empty → null
- Never invent keys that are not visible
- One array entry per visual key on the page
- Raw JSON only`

// LanguageDetection asks for a one-word language answer.
const LanguageDetection = `What language is this document written in?

Reply with ONLY the language name (e.g., "German", "English", "French", etc.). No explanation.`

// GraphicsDetection asks for a JSON list of non-text graphic elements.
const GraphicsDetection = `Locate every non-text graphic element in the image, such as logos, QR codes, barcodes, icons, or decorative visuals. Ignore all text, numbers, and textual content. For each detected graphic, determine its type and provide its bounding box.

Output ONLY a JSON list in this format: [{"type": "QR code", "bbox": [x1, y1, x2, y2]}, ...], where:
- "type" is the graphic type (e.g., "logo", "QR code").
- "bbox" is the bounding box with coordinates normalized to 0-1000 (0,0 is top-left; 1000,1000 is bottom-right).
If no graphics are detected, output [].`

// KVPExtraction builds the structured key-value prompt. When the user
// selected fields, the model is told to extract only those keys.
func KVPExtraction(selected []task.SelectedField) string {
    var b strings.Builder
    b.WriteString(`<image>You are extracting key-value pairs from this document image or PDF using thinking mode: Think deeply step-by-step before outputting. Follow this process exactly. Output only valid JSON.

PROCESS STEPS:
1. Visually analyze the document layout top-to-bottom, left-to-right. Identify all visible labels, headers, and associated values. For non-table content, keys are typically labels to the left or above values; associate based on proximity and structure (e.g., bullets under headers). For tables, identify headers and row cells. Think: What is the overall structure?

2. Transcribe exactly as visible: No corrections, assumptions, or inventions. If no value, use null. Preserve formatting/symbols. Think: Is this faithful to the image?

3. For ambiguous text (e.g., handwritten, though this doc is printed): Use context to infer (prefer digits in numbers, letters in names). Mark "uncertain": true only if genuinely unclear after deep analysis. Confidence: "high" (clear print), "medium" (degraded), "low" (faded/handwritten). Think: What context confirms this?

4. If tables present: Use headers as keys, extract rows as objects with per-row confidence. Think: Does the layout confirm a table?

5. Final filter: `)
    names := fieldNames(selected)
    if len(names) > 0 {
        b.WriteString(fmt.Sprintf("Extract ONLY values for these exact keys: %s. Ignore all other data. If a key has no value, omit it. Think: Does this data match exactly?", quoteJoin(names)))
    } else {
        b.WriteString("Extract all visible key-value pairs without filtering. Think: Is everything covered without hallucination?")
    }
    b.WriteString(`

OUTPUT JSON SCHEMA:
{
  "items": [{"key": "exact_key", "value": "exact_value", "confidence": "high|medium|low", "uncertain": true|false (optional)}],
  "tables": [{"headers": ["header1", ...], "rows": [{"header1": "value", ..., "confidence": "high|medium|low"}, ...]}]
}

EXAMPLES:
- Simple: {"items": [{"key": "Name", "value": "John Doe", "confidence": "high"}], "tables": []}
- Table: {"items": [], "tables": [{"headers": ["Item", "Price"], "rows": [{"Item": "Apple", "Price": "1.00", "confidence": "high"}]}]}

Think deeply about the entire process, then output only the JSON object. No extra text.`)
    return b.String()
}

// AnonExtraction builds the anonymization prompt. Selected fields are a
// hint only; everything visible is still extracted.
func AnonExtraction(selected []task.SelectedField) string {
    var b strings.Builder
    b.WriteString(`<image>Extract ALL key-value pairs from this document. Output only valid JSON.

EXTRACTION RULES:

1. NON-TABLE CONTENT
   - Key is typically LEFT of or ABOVE its value
   - Extract the key exactly as written, then its associated value
   - Include labels, field names, headings that have corresponding data

2. TABLE CONTENT
   - Column headers become KEYS
   - Each cell value pairs with its column header
   - Extract row by row, preserving row grouping

3. FIDELITY
   - Transcribe EXACTLY as visible (no corrections, no assumptions)
   - Preserve original language, formatting, symbols
   - If a field label exists but has NO value, use null

4. CONFIDENCE
   - "high": Clear, sharp, machine-printed
   - "medium": Readable but degraded/small
   - "low": Handwritten, faded, partially obscured

OUTPUT FORMAT (valid JSON only):

{
  "items": [
    {"key": "Invoice No", "value": "12345", "confidence": "high"},
    {"key": "Customer Name", "value": "John Smith", "confidence": "high"},
    {"key": "Date", "value": "15.03.2025", "confidence": "high"}
  ],
  "tables": [
    {
      "headers": ["Item", "Qty", "Price"],
      "rows": [
        {"Item": "Widget A", "Qty": "10", "Price": "5.00", "confidence": "high"}
      ]
    }
  ]
}

IMPORTANT: Extract EVERYTHING visible. This data will be anonymized for privacy compliance.`)
    names := fieldNames(selected)
    if len(names) > 0 {
        b.WriteString(fmt.Sprintf(`

NOTE: User is particularly interested in these fields: %s
However, extract ALL fields for complete anonymization.`, quoteJoin(names)))
    }
    return b.String()
}

func fieldNames(selected []task.SelectedField) []string {
    var names []string
    for _, f := range selected {
        if n := f.Name(); n != "" { names = append(names, n) }
    }
    return names
}

func quoteJoin(names []string) string {
    quoted := make([]string, len(names))
    for i, n := range names {
        quoted[i] = fmt.Sprintf("%q", n)
    }
    return strings.Join(quoted, ", ")
}
