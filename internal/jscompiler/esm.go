package jscompiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// toCommonJS rewrites the import/export statements esbuild leaves intact
// (it only strips TS/JSX syntax when Format is FormatESModule) into plain
// CommonJS-shaped statements operating on require()/module.exports, so the
// result can run as the body of an ordinary function instead of needing a
// real module linker (neither v8go nor the QuickJS binding this core uses
// exposes one — see compiler.go's doc comment). It returns the rewritten
// body plus the raw specifiers referenced, in the order each was first
// resolved.
//
// This is a best-effort, regex-based rewrite rather than a full parser: it
// covers the statement shapes esbuild actually emits for import/export
// (one per line, canonical spacing) and does not attempt to handle import/
// export syntax nested inside template literals or comments containing
// lines that merely look like one of these forms.
func toCommonJS(src string) (string, []string, error) {
	var imports []string
	seen := make(map[string]bool)
	record := func(spec string) {
		if !seen[spec] {
			seen[spec] = true
			imports = append(imports, spec)
		}
	}
	tempSeq := 0
	newTemp := func() string {
		tempSeq++
		return fmt.Sprintf("__opc_imp%d", tempSeq)
	}

	body, err := rewriteImports(src, record, newTemp)
	if err != nil {
		return "", nil, err
	}
	body, err = rewriteExports(body, record)
	if err != nil {
		return "", nil, err
	}
	return body, imports, nil
}

var (
	importFromRe       = regexp.MustCompile(`(?m)^([ \t]*)import\s+(.+?)\s+from\s*(['"])([^'"]+)\3\s*;?[ \t]*$`)
	importSideEffectRe = regexp.MustCompile(`(?m)^([ \t]*)import\s*(['"])([^'"]+)\2\s*;?[ \t]*$`)
)

func rewriteImports(src string, record func(string), newTemp func() string) (string, error) {
	var rewriteErr error

	out := importFromRe.ReplaceAllStringFunc(src, func(match string) string {
		m := importFromRe.FindStringSubmatch(match)
		indent, clause, spec := m[1], strings.TrimSpace(m[2]), m[4]
		record(spec)
		lines, err := expandImportClause(clause, spec, newTemp())
		if err != nil {
			rewriteErr = err
			return match
		}
		for i, l := range lines {
			lines[i] = indent + l
		}
		return strings.Join(lines, "\n")
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}

	out = importSideEffectRe.ReplaceAllStringFunc(out, func(match string) string {
		m := importSideEffectRe.FindStringSubmatch(match)
		indent, spec := m[1], m[3]
		record(spec)
		return fmt.Sprintf("%srequire(%s);", indent, strconv.Quote(spec))
	})

	return out, nil
}

// expandImportClause turns the clause between "import" and "from" (e.g.
// "Def, { a, b as c }", "* as ns", "Def") into the const declarations that
// pull the same bindings out of require(spec).
func expandImportClause(clause, spec, tmp string) ([]string, error) {
	lines := []string{fmt.Sprintf("const %s = require(%s);", tmp, strconv.Quote(spec))}

	remainder := strings.TrimSpace(clause)
	var defaultName, nsName string
	var named [][2]string // [local, imported]

	if strings.HasPrefix(remainder, "*") {
		nsName = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(remainder, "*")), "as"))
	} else if !strings.HasPrefix(remainder, "{") {
		if idx := strings.IndexByte(remainder, ','); idx != -1 {
			defaultName = strings.TrimSpace(remainder[:idx])
			remainder = strings.TrimSpace(remainder[idx+1:])
		} else {
			defaultName = remainder
			remainder = ""
		}
		if strings.HasPrefix(remainder, "*") {
			nsName = strings.TrimSpace(strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(remainder, "*"), "as")))
			remainder = ""
		}
	}

	if strings.HasPrefix(remainder, "{") {
		inner := strings.TrimSuffix(strings.TrimPrefix(remainder, "{"), "}")
		for _, part := range strings.Split(inner, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			fields := strings.Fields(part)
			switch len(fields) {
			case 1:
				named = append(named, [2]string{fields[0], fields[0]})
			case 3:
				if fields[1] != "as" {
					return nil, fmt.Errorf("unrecognized named import clause %q", part)
				}
				named = append(named, [2]string{fields[2], fields[0]})
			default:
				return nil, fmt.Errorf("unrecognized named import clause %q", part)
			}
		}
	}

	if defaultName != "" {
		lines = append(lines, fmt.Sprintf(
			"const %s = (%s && typeof %s === 'object' && 'default' in %s) ? %s.default : %s;",
			defaultName, tmp, tmp, tmp, tmp, tmp))
	}
	if nsName != "" {
		lines = append(lines, fmt.Sprintf("const %s = %s;", nsName, tmp))
	}
	for _, n := range named {
		lines = append(lines, fmt.Sprintf("const %s = %s.%s;", n[0], tmp, n[1]))
	}
	return lines, nil
}

var (
	exportStarAsRe     = regexp.MustCompile(`(?m)^[ \t]*export\s*\*\s*as\s+([A-Za-z_$][\w$]*)\s*from\s*(['"])([^'"]+)\2\s*;?[ \t]*$`)
	exportStarFromRe   = regexp.MustCompile(`(?m)^[ \t]*export\s*\*\s*from\s*(['"])([^'"]+)\1\s*;?[ \t]*$`)
	exportListFromRe   = regexp.MustCompile(`(?m)^[ \t]*export\s*\{([^}]*)\}\s*from\s*(['"])([^'"]+)\2\s*;?[ \t]*$`)
	exportListBareRe   = regexp.MustCompile(`(?m)^[ \t]*export\s*\{([^}]*)\}\s*;?[ \t]*$`)
	exportDefaultRe    = regexp.MustCompile(`export\s+default\s+`)
	exportConstLetVarRe = regexp.MustCompile(`(?m)^([ \t]*)export\s+(const|let|var)\s+([A-Za-z_$][\w$]*)\b`)
	exportFunctionRe   = regexp.MustCompile(`(?m)^([ \t]*)export\s+(async\s+function\*?|function\*?)\s+([A-Za-z_$][\w$]*)`)
	exportClassRe      = regexp.MustCompile(`(?m)^([ \t]*)export\s+class\s+([A-Za-z_$][\w$]*)`)
)

func rewriteExports(src string, record func(string)) (string, error) {
	var rewriteErr error

	src = exportStarAsRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportStarAsRe.FindStringSubmatch(match)
		name, spec := m[1], m[3]
		record(spec)
		return fmt.Sprintf("module.exports.%s = require(%s);", name, strconv.Quote(spec))
	})

	src = exportStarFromRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportStarFromRe.FindStringSubmatch(match)
		spec := m[2]
		record(spec)
		return fmt.Sprintf("Object.assign(module.exports, require(%s));", strconv.Quote(spec))
	})

	src = exportListFromRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportListFromRe.FindStringSubmatch(match)
		list, spec := m[1], m[3]
		record(spec)
		lines, err := reexportLines(list, fmt.Sprintf("require(%s)", strconv.Quote(spec)))
		if err != nil {
			rewriteErr = err
			return match
		}
		return strings.Join(lines, "\n")
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}

	src = exportListBareRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportListBareRe.FindStringSubmatch(match)
		lines, err := reexportLines(m[1], "")
		if err != nil {
			rewriteErr = err
			return match
		}
		return strings.Join(lines, "\n")
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}

	src = exportDefaultRe.ReplaceAllString(src, "module.exports.default = ")

	var hoisted []string
	src = exportConstLetVarRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportConstLetVarRe.FindStringSubmatch(match)
		indent, kw, name := m[1], m[2], m[3]
		hoisted = append(hoisted, name)
		return fmt.Sprintf("%s%s %s", indent, kw, name)
	})
	src = exportFunctionRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportFunctionRe.FindStringSubmatch(match)
		indent, kw, name := m[1], m[2], m[3]
		hoisted = append(hoisted, name)
		return fmt.Sprintf("%s%s %s", indent, kw, name)
	})
	src = exportClassRe.ReplaceAllStringFunc(src, func(match string) string {
		m := exportClassRe.FindStringSubmatch(match)
		indent, name := m[1], m[2]
		hoisted = append(hoisted, name)
		return fmt.Sprintf("%sclass %s", indent, name)
	})

	if len(hoisted) == 0 {
		return src, nil
	}
	var trailer strings.Builder
	trailer.WriteString(src)
	trailer.WriteString("\n")
	for _, name := range hoisted {
		trailer.WriteString(fmt.Sprintf("module.exports.%s = %s;\n", name, name))
	}
	return trailer.String(), nil
}

// reexportLines handles the body of `export { a, b as c } [from 'spec']`.
// source, when non-empty, is a JS expression yielding the namespace to
// pull re-exported bindings from; when empty, exported names are taken
// from bindings already declared earlier in this module's body.
func reexportLines(list, source string) ([]string, error) {
	var lines []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		var local, exported string
		switch len(fields) {
		case 1:
			local, exported = fields[0], fields[0]
		case 3:
			if fields[1] != "as" {
				return nil, fmt.Errorf("unrecognized export clause %q", part)
			}
			local, exported = fields[0], fields[2]
		default:
			return nil, fmt.Errorf("unrecognized export clause %q", part)
		}
		if source == "" {
			lines = append(lines, fmt.Sprintf("module.exports.%s = %s;", exported, local))
		} else {
			lines = append(lines, fmt.Sprintf("module.exports.%s = %s.%s;", exported, source, local))
		}
	}
	return lines, nil
}
