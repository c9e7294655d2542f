// Package codegen turns a recorded action log into Playwright for Java
// statements plus a class of string constants for the element names.
package codegen

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"actionrecorder/backend/internal/models"
)

const page = "this.page"

type Code struct {
	Constants string `json:"constants"`
	Body      string `json:"body"`
}

func Generate(actions []models.Action) Code {
	return Code{
		Constants: ConstantsClass(actions),
		Body:      PlaywrightJava(actions),
	}
}

var nonConstantChars = regexp.MustCompile(`[^A-Z0-9]+`)

func constantName(value string) string {
	name := nonConstantChars.ReplaceAllString(strings.ToUpper(value), "_")
	return strings.Trim(name, "_")
}

type constant struct {
	name   string
	value  string
	action models.ActionType
	page   models.PageContext
}

// ConstantsClass declares one constant per click, input and select action.
// Clashing names get a numeric suffix.
func ConstantsClass(actions []models.Action) string {
	var constants []constant
	taken := make(map[string]bool)

	for _, action := range actions {
		el := action.Element
		if el == nil {
			continue
		}
		var value string
		switch action.Type {
		case models.ActionClick:
			value = firstNonEmpty(el.Text, el.Name, el.Label, "unknown")
		case models.ActionInput:
			value = firstNonEmpty(el.Placeholder, el.Label, el.Name, "input field")
		case models.ActionSelect:
			value = firstNonEmpty(el.Label, el.Name, "dropdown")
		default:
			continue
		}
		name := constantName(value)
		if name == "" {
			continue
		}
		unique := name
		for n := 1; taken[unique]; n++ {
			unique = fmt.Sprintf("%s_%d", name, n)
		}
		taken[unique] = true
		constants = append(constants, constant{name: unique, value: value, action: action.Type, page: action.PageContext})
	}

	var b strings.Builder
	for _, c := range constants {
		tab := ""
		if !c.page.IsZero() {
			tab = fmt.Sprintf(" in Tab %d", c.page.PageNumber)
		}
		fmt.Fprintf(&b, "    // %s action%s\n", capitalize(string(c.action)), tab)
		fmt.Fprintf(&b, "    public static final String %s = %s;\n\n", c.name, quote(c.value))
	}
	return b.String()
}

// PlaywrightJava renders the test body: test data variables first, then one
// logged statement block per action, with a comment each time the page
// changes.
func PlaywrightJava(actions []models.Action) string {
	var b strings.Builder

	vars := newVariables()
	for _, action := range actions {
		if action.Type == models.ActionInput && action.Value != "" {
			vars.name(action.Value)
		}
	}
	if len(vars.order) > 0 {
		b.WriteString("    // Test data\n")
		for _, value := range vars.order {
			fmt.Fprintf(&b, "    private static final String %s = %s;\n", vars.names[value], quote(value))
		}
		b.WriteString("\n")
	}

	pageURLs := make(map[int]string)
	for _, action := range actions {
		n := action.PageContext.PageNumber
		if _, ok := pageURLs[n]; !ok && n != 0 {
			pageURLs[n] = action.URL
		}
	}

	current := 0
	for _, action := range actions {
		if action.Element == nil && action.Type != models.ActionKeyPress {
			continue
		}
		if n := action.PageContext.PageNumber; n != 0 && n != current {
			fmt.Fprintf(&b, "        // Recording on page %d: %s\n", n, pageURLs[n])
			current = n
		}
		writeStatement(&b, action, vars)
	}
	return b.String()
}

func writeStatement(b *strings.Builder, action models.Action, vars *variables) {
	desc := "element"
	loc := ""
	if el := action.Element; el != nil {
		desc = firstNonEmpty(el.Text, el.Placeholder, el.Label, "element")
		loc = page + "." + Locator(el)
	}
	logLine := func(msg string) {
		fmt.Fprintf(b, "        logger.info(LogBuilder.getLogLine(%s));\n", quote(msg))
	}

	switch action.Type {
	case models.ActionClick:
		logLine("Click on " + desc)
		fmt.Fprintf(b, "        %s.click();\n\n", loc)
	case models.ActionInput:
		name := vars.name(action.Value)
		logLine(fmt.Sprintf("Fill input %s with %s", desc, name))
		fmt.Fprintf(b, "        %s.click();\n", loc)
		fmt.Fprintf(b, "        %s.fill(%s);\n\n", loc, name)
	case models.ActionClear:
		logLine("Clear " + desc)
		fmt.Fprintf(b, "        %s.clear();\n\n", loc)
	case models.ActionSelect:
		logLine(fmt.Sprintf("Select option '%s' from %s", action.Value, desc))
		fmt.Fprintf(b, "        %s.selectOption(%s);\n\n", loc, quote(action.Value))
	case models.ActionHover:
		logLine("Hover over " + desc)
		fmt.Fprintf(b, "        %s.hover();\n\n", loc)
	case models.ActionRightClick:
		logLine("Right click on " + desc)
		fmt.Fprintf(b, "        %s.click(new ClickOptions().setButton(MouseButton.RIGHT));\n\n", loc)
	case models.ActionDoubleClick:
		logLine("Double click on " + desc)
		fmt.Fprintf(b, "        %s.dblclick();\n\n", loc)
	case models.ActionFileUpload:
		files := make([]string, len(action.Files))
		for i, f := range action.Files {
			files[i] = quote(f)
		}
		logLine("Upload files to " + desc)
		fmt.Fprintf(b, "        %s.setInputFiles(new Path[] {%s});\n\n", loc, strings.Join(files, ", "))
	case models.ActionCheck:
		logLine("Check " + desc)
		fmt.Fprintf(b, "        %s.check();\n\n", loc)
	case models.ActionUncheck:
		logLine("Uncheck " + desc)
		fmt.Fprintf(b, "        %s.uncheck();\n\n", loc)
	case models.ActionFocus:
		logLine("Focus on " + desc)
		fmt.Fprintf(b, "        %s.focus();\n\n", loc)
	case models.ActionBlur:
		logLine("Remove focus from " + desc)
		fmt.Fprintf(b, "        %s.blur();\n\n", loc)
	case models.ActionEnterPress:
		logLine("Press Enter in " + desc)
		fmt.Fprintf(b, "        %s.press(\"Enter\");\n\n", loc)
	case models.ActionKeyPress:
		key := firstNonEmpty(action.Value, action.Key)
		logLine("Press key: " + key)
		fmt.Fprintf(b, "        %s.keyboard().press(%s);\n\n", page, quote(key))
	case models.ActionAssertion:
		logLine(fmt.Sprintf("Assert %s is visible", desc))
		fmt.Fprintf(b, "        assertThat(%s).isVisible();\n\n", loc)
	case models.ActionDragDrop:
		if action.Target == nil {
			return
		}
		logLine("Drag and drop " + desc)
		fmt.Fprintf(b, "        %s.dragTo(%s.%s);\n\n", loc, page, Locator(action.Target))
	}
}

// Locator picks the Playwright locator call for el: role with label, label,
// placeholder, text, test id, id, tag with type, then bare tag.
func Locator(el *models.ElementDescriptor) string {
	switch {
	case el.Role != "" && el.Label != "":
		return fmt.Sprintf("getByRole(AriaRole.%s, new Page.GetByRoleOptions().setName(%s))",
			strings.ToUpper(strings.ReplaceAll(el.Role, "-", "_")), quote(el.Label))
	case el.Label != "":
		return fmt.Sprintf("getByLabel(%s)", quote(el.Label))
	case el.Placeholder != "":
		return fmt.Sprintf("getByPlaceholder(%s)", quote(el.Placeholder))
	case el.Text != "":
		return fmt.Sprintf("getByText(%s)", quote(el.Text))
	case el.TestID != "":
		return fmt.Sprintf("getByTestId(%s)", quote(el.TestID))
	case el.ID != "":
		return fmt.Sprintf("locator(%s)", quote("#"+el.ID))
	}
	tag := strings.ToLower(el.TagName)
	if tag == "" {
		tag = "*"
	}
	if el.Type != "" {
		return fmt.Sprintf("locator(%s)", quote(fmt.Sprintf("%s[type='%s']", tag, el.Type)))
	}
	return fmt.Sprintf("locator(%s)", quote(tag))
}

// ShouldTriggerGeneration reports whether action usually ends a form fill: an
// Enter keypress, or a click on a button or submit input.
func ShouldTriggerGeneration(action models.Action) bool {
	switch action.Type {
	case models.ActionEnterPress:
		return action.Key == "Enter"
	case models.ActionClick:
		if action.Element == nil {
			return false
		}
		return strings.EqualFold(action.Element.TagName, "button") || action.Element.Type == "submit"
	}
	return false
}

// CamelCase turns free text into a Java identifier: "Alice Smith!" becomes
// "aliceSmith".
func CamelCase(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(w)
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]) + w[1:])
	}
	return b.String()
}

type variables struct {
	names map[string]string
	taken map[string]bool
	order []string
}

func newVariables() *variables {
	return &variables{names: make(map[string]string), taken: make(map[string]bool)}
}

// name returns the identifier for value, allocating one on first use.
func (v *variables) name(value string) string {
	if n, ok := v.names[value]; ok {
		return n
	}
	base := CamelCase(value)
	if base == "" || unicode.IsDigit(rune(base[0])) {
		base = "value" + strings.ToUpper(base[:min(1, len(base))]) + base[min(1, len(base)):]
	}
	n := base
	for i := 2; v.taken[n]; i++ {
		n = fmt.Sprintf("%s%d", base, i)
	}
	v.taken[n] = true
	v.names[value] = n
	v.order = append(v.order, value)
	return n
}

var javaEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func quote(s string) string {
	return `"` + javaEscaper.Replace(s) + `"`
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
