package session

// Language is an editor language the room can be switched to.
type Language struct {
	Value string
	Name  string
}

// DefaultLanguage is written to a room that has no language yet.
const DefaultLanguage = "plaintext"

var languages = []Language{
	{Value: "plaintext", Name: "Plain Text"},
	{Value: "c", Name: "C"},
	{Value: "cpp", Name: "C++"},
	{Value: "csharp", Name: "C#"},
	{Value: "css", Name: "CSS"},
	{Value: "go", Name: "Go"},
	{Value: "html", Name: "HTML"},
	{Value: "java", Name: "Java"},
	{Value: "javascript", Name: "JavaScript"},
	{Value: "json", Name: "JSON"},
	{Value: "kotlin", Name: "Kotlin"},
	{Value: "markdown", Name: "Markdown"},
	{Value: "php", Name: "PHP"},
	{Value: "python", Name: "Python"},
	{Value: "ruby", Name: "Ruby"},
	{Value: "rust", Name: "Rust"},
	{Value: "sql", Name: "SQL"},
	{Value: "swift", Name: "Swift"},
	{Value: "typescript", Name: "TypeScript"},
	{Value: "yaml", Name: "YAML"},
}

// Languages returns the catalog in display order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// LanguageName returns the display name of value, or value itself when it is
// not in the catalog.
func LanguageName(value string) string {
	for _, l := range languages {
		if l.Value == value {
			return l.Name
		}
	}
	return value
}
