package display

import (
	"github.com/pterm/pterm"
)

// Table prints rows under a header row as a boxed terminal table
func Table(header []string, rows [][]string) error {
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, header)
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

// KeyValues prints two-column label/value pairs without a header
func KeyValues(pairs [][2]string) error {
	data := make(pterm.TableData, 0, len(pairs))
	for _, p := range pairs {
		data = append(data, []string{pterm.Bold.Sprint(p[0]), p[1]})
	}
	return pterm.DefaultTable.WithData(data).Render()
}

// Section prints a section heading
func Section(title string) {
	pterm.DefaultSection.Println(title)
}

// Success prints a prefixed one-line notice
func Success(format string, args ...interface{}) { pterm.Success.Printfln(format, args...) }

func Info(format string, args ...interface{}) { pterm.Info.Printfln(format, args...) }

func Warning(format string, args ...interface{}) { pterm.Warning.Printfln(format, args...) }

func Error(format string, args ...interface{}) { pterm.Error.Printfln(format, args...) }
