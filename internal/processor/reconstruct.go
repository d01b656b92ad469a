package processor

import (
    "fmt"
    "html"
    "regexp"
    "sort"
    "strconv"
    "strings"
    "time"
)

// dpiScale maps the 300 DPI raster space to 96 DPI screen pixels.
const dpiScale = 96.0 / 300.0

const lineBreakMark = "___LINEBREAK___"

type element struct {
    left, top     int
    width, height int
    text          string
    class         string
    fontType      string
    fontSize      int
    fontFamily    string
    vertical      bool
}

var (
    taggedSpanRe = regexp.MustCompile(`(?s)<(span|div|p)\b([^>]*)>(.*?)</(?:span|div|p)>`)
    attrRe       = regexp.MustCompile(`([a-zA-Z-]+)\s*=\s*"([^"]*)"`)
    brRe         = regexp.MustCompile(`<br\s*/?>`)
    anyTagRe     = regexp.MustCompile(`<[^>]+>`)
    spaceRe      = regexp.MustCompile(`\s+`)
)

var fontFamilies = map[string]string{
    "mono":  "'VT323', monospace",
    "sans":  "system-ui, sans-serif",
    "serif": "'Times New Roman', serif",
    "hand":  "'Courier New', monospace",
    "other": "system-ui, sans-serif",
}

var languageCodes = map[string]string{
    "english":  "en",
    "german":   "de",
    "french":   "fr",
    "spanish":  "es",
    "italian":  "it",
    "czech":    "cs",
    "polish":   "pl",
    "russian":  "ru",
    "chinese":  "zh",
    "japanese": "ja",
    "korean":   "ko",
}

// LanguageCode maps a detected language name to its ISO code, en fallback.
func LanguageCode(language string) string {
    if code, ok := languageCodes[strings.ToLower(strings.TrimSpace(language))]; ok {
        return code
    }
    return "en"
}

// Reconstruct converts the model's data-bbox span stream into a positioned
// page. Boxes arrive normalized 0-1000; font size derives from character
// width (bbox width / text length × 1.9, clamped 8-200px, handwriting
// scaled down 30%). Tall narrow boxes render as vertical text.
func Reconstruct(rawHTML string, width, height int, language string) string {
    var elements []element

    for _, m := range taggedSpanRe.FindAllStringSubmatch(rawHTML, -1) {
        attrs := parseAttrs(m[2])
        bbox, ok := attrs["data-bbox"]
        if !ok { continue }
        coords := strings.Fields(bbox)
        if len(coords) != 4 { continue }
        var vals [4]float64
        bad := false
        for i, c := range coords {
            f, err := strconv.ParseFloat(c, 64)
            if err != nil { bad = true; break }
            vals[i] = f
        }
        if bad { continue }

        x1 := int(vals[0] * float64(width) / 1000)
        y1 := int(vals[1] * float64(height) / 1000)
        x2 := int(vals[2] * float64(width) / 1000)
        y2 := int(vals[3] * float64(height) / 1000)
        wPx, hPx := x2-x1, y2-y1

        text := innerText(m[3])
        if strings.TrimSpace(text) == "" { continue }
        textLen := len([]rune(strings.ReplaceAll(strings.ReplaceAll(text, lineBreakMark, ""), "<br>", "")))
        if textLen < 1 { continue }

        charWidth := float64(wPx) / float64(textLen)
        fontSize := int(charWidth * 1.9)
        if fontSize < 8 { fontSize = 8 }
        if fontSize > 200 { fontSize = 200 }

        fontType := attrs["data-font"]
        if fontType == "" { fontType = "sans" }
        if fontType == "hand" { fontSize = int(float64(fontSize) * 0.7) }

        family, ok := fontFamilies[fontType]
        if !ok { family = fontFamilies["sans"] }

        class := "text"
        if c := strings.Fields(attrs["class"]); len(c) > 0 { class = c[0] }

        vertical := wPx > 0 && hPx > 0 && float64(hPx)/float64(wPx) > 3.0

        elements = append(elements, element{
            left: x1, top: y1, width: wPx, height: hPx,
            text: text, class: class,
            fontType: fontType, fontSize: fontSize, fontFamily: family,
            vertical: vertical,
        })
    }

    if len(elements) == 0 {
        return emptyPage(width, height, LanguageCode(language))
    }

    sort.SliceStable(elements, func(i, j int) bool {
        if elements[i].top != elements[j].top { return elements[i].top < elements[j].top }
        return elements[i].left < elements[j].left
    })

    var spans strings.Builder
    for _, el := range elements {
        escaped := strings.ReplaceAll(html.EscapeString(el.text), lineBreakMark, "<br>")
        verticalClass, verticalStyle := "", ""
        if el.vertical {
            verticalClass = " vertical-text"
            verticalStyle = " writing-mode: vertical-rl; text-orientation: mixed; transform: rotate(180deg);"
        }
        spans.WriteString(fmt.Sprintf(
            `<span class="word %s%s" style="position:absolute; left:%dpx; top:%dpx; font-size:%dpx; line-height:1.2; font-family:%s; white-space:nowrap;%s">%s</span>`+"\n",
            el.class, verticalClass, el.left, el.top, el.fontSize, el.fontFamily, verticalStyle, escaped))
    }

    return pageShell(width, height, LanguageCode(language), spans.String())
}

func parseAttrs(raw string) map[string]string {
    attrs := map[string]string{}
    for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
        attrs[strings.ToLower(m[1])] = m[2]
    }
    return attrs
}

// innerText strips markup from a span body, preserving explicit breaks as
// placeholders so escaping later cannot mangle them.
func innerText(inner string) string {
    s := brRe.ReplaceAllString(inner, lineBreakMark)
    s = anyTagRe.ReplaceAllString(s, "")
    s = html.UnescapeString(s)
    return strings.ReplaceAll(s, "\n", "<br>")
}

// ExtractPlainText strips tags and collapses whitespace; the derived txt
// artifact for html units comes from here.
func ExtractPlainText(rawHTML string) string {
    s := brRe.ReplaceAllString(rawHTML, " ")
    s = anyTagRe.ReplaceAllString(s, " ")
    s = html.UnescapeString(s)
    return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func pageShell(width, height int, langCode, spans string) string {
    displayW := int(float64(width) * dpiScale)
    displayH := int(float64(height) * dpiScale)
    return fmt.Sprintf(`<!DOCTYPE html>
<html lang="%s">
<head>
<!--
Generated: %sZ
Source: %dx%dpx (300 DPI)
Display: %dx%dpx (96 DPI, scaled)
Font Sizing: Width-based (bbox_width / char_count x 1.9)
-->
<meta charset="UTF-8">
<title>Document</title>
<link href="https://fonts.googleapis.com/css2?family=VT323&display=swap" rel="stylesheet">
<style>
    * { margin:0; padding:0; box-sizing:border-box; }
    body {
        background:#f9f9f9;
        display: flex;
        justify-content: center;
        align-items: flex-start;
        padding: 20px;
    }
    .page-wrapper {
        width: %dpx;
        height: %dpx;
    }
    .page-container {
        position: relative;
        width: %dpx;
        height: %dpx;
        background: white;
        margin: 20px auto;
        box-shadow: 0 0 10px rgba(0,0,0,0.1);
        overflow: hidden;
        transform: scale(%.4f);
        transform-origin: top left;
    }
    .word {
        position: absolute;
        white-space: nowrap;
        line-height: 1.2 !important;
        margin: 0;
        padding: 0;
        overflow: visible;
    }
    .vertical-text {
        writing-mode: vertical-rl;
        text-orientation: mixed;
    }
</style>
</head>
<body>
<div class="page-wrapper">
    <div class="page-container">
%s    </div>
</div>
</body>
</html>`,
        langCode, time.Now().UTC().Format("2006-01-02T15:04:05"),
        width, height, displayW, displayH,
        displayW, displayH, width, height, dpiScale, spans)
}

func emptyPage(width, height int, langCode string) string {
    displayW := int(float64(width) * dpiScale)
    displayH := int(float64(height) * dpiScale)
    return fmt.Sprintf(`<!DOCTYPE html>
<html lang="%s">
<head>
<meta charset="UTF-8">
<title>Document</title>
<style>
    * { margin:0; padding:0; box-sizing:border-box; }
    body {
        background:#f9f9f9;
        display: flex;
        justify-content: center;
        align-items: flex-start;
        padding: 20px;
    }
    .page-wrapper {
        width: %dpx;
        height: %dpx;
    }
    .page-container {
        position: relative;
        width: %dpx;
        height: %dpx;
        background: white;
        margin: 20px auto;
        box-shadow: 0 0 10px rgba(0,0,0,0.1);
        overflow: hidden;
        transform: scale(%.4f);
        transform-origin: top left;
    }
    .error {
        position: absolute;
        top: 50%%;
        left: 50%%;
        transform: translate(-50%%, -50%%);
        color: #999;
        font-size: 24px;
        text-align: center;
    }
</style>
</head>
<body>
<div class="page-wrapper">
    <div class="page-container">
        <div class="error">No content extracted</div>
    </div>
</div>
</body>
</html>`, langCode, displayW, displayH, width, height, dpiScale)
}
