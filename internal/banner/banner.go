// Package banner formats the human-readable numbers printed on the boot
// banner: byte counts and page counts with thousands separators, so a log
// line reads "16,777,216 bytes" instead of an unseparated digit run. This
// is cosmetic only -- nothing here gates pager correctness.
package banner

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// MemSize formats bytes with thousands separators and a "bytes" suffix.
func MemSize(bytes uint64) string {
	return printer.Sprintf("%v bytes", number.Decimal(bytes))
}

// Count formats n with thousands separators, suffixed by unit (e.g.
// "pages", "frames").
func Count(n uint64, unit string) string {
	return printer.Sprintf("%v %s", number.Decimal(n), unit)
}
