package irc

import (
	"sort"
	"strings"
)

var tagUnescaper = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\r`, "\r",
	`\n`, "\n",
	`\\`, `\`,
	`\`, "",
)

var tagEscaper = strings.NewReplacer(
	";", `\:`,
	" ", `\s`,
	"\r", `\r`,
	"\n", `\n`,
	`\`, `\\`,
)

// ParseTags parses the IRCv3 tag section without its leading '@'.
func ParseTags(raw string) map[string]string {
	tags := make(map[string]string)
	if raw == "" {
		return tags
	}
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		tags[k] = tagUnescaper.Replace(v)
	}
	return tags
}

// SerializeTags is the inverse of ParseTags. Keys are sorted so the output is
// stable.
func SerializeTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tagEscaper.Replace(tags[k]))
	}
	return b.String()
}

// ParseBadges parses "broadcaster/1,subscriber/12" into a name→version map.
func ParseBadges(raw string) map[string]string {
	badges := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		if item == "" {
			continue
		}
		name, version, _ := strings.Cut(item, "/")
		badges[name] = version
	}
	return badges
}
