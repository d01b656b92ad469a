package anon

import (
    "fmt"
    "math/rand"
    "regexp"
    "strings"
    "time"
)

// Synthesizer generates realistic replacement values keyed by field name.
// The value pools are deliberately small; the goal is plausible shape, not
// demographic realism.
type Synthesizer struct {
    r *rand.Rand
}

// NewSynthesizer seeds a generator. Tests pass a fixed seed.
func NewSynthesizer(seed int64) *Synthesizer {
    return &Synthesizer{r: rand.New(rand.NewSource(seed))}
}

var (
    firstNames = []string{"James", "Maria", "Wei", "Anna", "Thomas", "Elena", "David", "Sofia", "Lukas", "Nina", "Pierre", "Clara"}
    lastNames  = []string{"Smith", "Mueller", "Garcia", "Chen", "Novak", "Dubois", "Rossi", "Johnson", "Weber", "Silva", "Kowalski", "Berg"}
    streets    = []string{"Oak Street", "Main Street", "Park Avenue", "Hauptstrasse", "Elm Road", "Bahnhofstrasse", "Hill Lane", "River Way"}
    cities     = []string{"Springfield", "Riverton", "Oakdale", "Neustadt", "Fairview", "Lakewood", "Milltown", "Westfield"}
    states     = []string{"California", "Texas", "Bavaria", "Ontario", "Hessen", "Florida", "Tyrol", "Utah"}
    countries  = []string{"Germany", "United States", "France", "Austria", "Netherlands", "Spain", "Italy", "Canada"}
    companies  = []string{"Northwind Trading", "Acme Industries", "Globex GmbH", "Initech Solutions", "Vantage Partners", "Meridian Group"}
    jobs       = []string{"Accountant", "Engineer", "Sales Manager", "Technician", "Analyst", "Consultant", "Coordinator"}

    numericOnlyRe = regexp.MustCompile(`^[\d\s.,/-]+$`)
    moneyRe       = regexp.MustCompile(`\d+[.,]\d{2}`)
)

func (s *Synthesizer) pick(pool []string) string { return pool[s.r.Intn(len(pool))] }

func (s *Synthesizer) intn(lo, hi int) int { return lo + s.r.Intn(hi-lo+1) }

// Replace produces a fake value whose type matches what the key implies.
func (s *Synthesizer) Replace(value, key string) string {
    switch {
    case keyMatches(key, "first name", "given name", "vorname", "prénom", "nombre"):
        return s.pick(firstNames)
    case keyMatches(key, "last name", "surname", "family name", "nachname", "nom", "apellido"):
        return s.pick(lastNames)
    case keyMatches(key, "name", "patient", "customer", "client", "versicherten"):
        if len(strings.Fields(value)) >= 2 {
            return s.pick(firstNames) + " " + s.pick(lastNames)
        }
        return s.pick(firstNames)

    case keyMatches(key, "email", "e-mail", "correo"):
        return fmt.Sprintf("%s.%s@example.com",
            strings.ToLower(s.pick(firstNames)), strings.ToLower(s.pick(lastNames)))
    case keyMatches(key, "phone", "mobile", "telefon", "tel", "fax", "teléfono"):
        return fmt.Sprintf("(%03d) %03d-%04d", s.intn(200, 989), s.intn(200, 999), s.intn(0, 9999))

    case keyMatches(key, "street", "address", "adresse", "straße", "strasse", "dirección"):
        return fmt.Sprintf("%d %s", s.intn(1, 9999), s.pick(streets))
    case keyMatches(key, "city", "stadt", "town", "ciudad", "ville"):
        return s.pick(cities)
    case keyMatches(key, "zip", "postal", "plz", "postleitzahl"):
        return fmt.Sprintf("%05d", s.intn(10000, 99999))
    case keyMatches(key, "state", "province", "bundesland", "provincia"):
        return s.pick(states)
    case keyMatches(key, "country", "land", "país", "pays"):
        return s.pick(countries)

    case keyMatches(key, "ssn", "social security"):
        return fmt.Sprintf("%03d-%02d-%04d", s.intn(100, 899), s.intn(10, 99), s.intn(1000, 9999))
    case keyMatches(key, "ein", "tax id", "steuer", "nif"):
        return fmt.Sprintf("%d-%d", s.intn(10, 99), s.intn(1000000, 9999999))
    case keyMatches(key, "account", "acct", "konto", "iban"):
        return fmt.Sprintf("DE%02d%08d%010d", s.intn(10, 99), s.intn(10000000, 99999999), s.r.Int63n(10000000000))
    case keyMatches(key, "invoice", "rechnung", "factura"):
        return fmt.Sprintf("INV-%06d", s.intn(100000, 999999))
    case keyMatches(key, "order", "bestellung", "pedido"):
        return fmt.Sprintf("ORD-%06d", s.intn(100000, 999999))
    case keyMatches(key, "policy", "member", "insurance"):
        return fmt.Sprintf("POL-%09d", s.intn(100000000, 999999999))
    case keyMatches(key, "patient id", "mrn", "medical record"):
        return fmt.Sprintf("MRN-%06d", s.intn(100000, 999999))
    case keyMatches(key, "license", "permit", "führerschein"):
        return fmt.Sprintf("%c%c%c-%04d", 'A'+rune(s.r.Intn(26)), 'A'+rune(s.r.Intn(26)), 'A'+rune(s.r.Intn(26)), s.intn(0, 9999))

    case keyMatches(key, "birth", "dob", "geboren", "geburtsdatum", "geb."):
        age := s.intn(18, 85)
        dob := time.Now().AddDate(-age, -s.r.Intn(12), -s.r.Intn(28))
        return dob.Format("02.01.2006")
    case keyMatches(key, "date", "datum", "fecha"):
        d := time.Date(time.Now().Year(), time.Month(s.intn(1, 12)), s.intn(1, 28), 0, 0, 0, 0, time.UTC)
        return d.Format("02.01.2006")

    case keyMatches(key, "amount", "total", "sum", "price", "betrag", "preis", "tax", "vat"):
        cents := fmt.Sprintf("%d.%02d", s.intn(10, 9999), s.intn(0, 99))
        lower := strings.ToLower(value)
        switch {
        case strings.Contains(value, "€") || strings.Contains(lower, "eur"):
            return "€" + cents
        case strings.Contains(value, "$") || strings.Contains(lower, "usd"):
            return "$" + cents
        case moneyRe.MatchString(value):
            return cents
        }
        return fmt.Sprintf("%d", s.intn(10, 9999))

    case keyMatches(key, "qty", "quantity", "menge", "anzahl", "cantidad"):
        return fmt.Sprintf("%d", s.intn(1, 100))

    case keyMatches(key, "company", "firm", "organization", "firma", "empresa"):
        return s.pick(companies)
    case keyMatches(key, "job", "occupation", "title", "position", "beruf"):
        return s.pick(jobs)
    }

    // Numeric-looking values keep their digit structure.
    if numericOnlyRe.MatchString(value) {
        var b strings.Builder
        replaced := false
        for _, r := range value {
            if r >= '0' && r <= '9' {
                b.WriteRune(rune('0' + s.r.Intn(10)))
                replaced = true
            } else {
                b.WriteRune(r)
            }
        }
        if replaced { return b.String() }
    }

    return fmt.Sprintf("[SYNTHETIC:%dchars]", len(value))
}
