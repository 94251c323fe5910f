package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/pterm/pterm"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
)

// disableColor 关闭所有彩色输出
func disableColor() {
	color.NoColor = true
	pterm.DisableColor()
}

// printTitle 输出带下划线的标题
func printTitle(w io.Writer, title string) {
	titleColor.Fprintln(w, title)
	titleColor.Fprintln(w, strings.Repeat("=", runewidth.StringWidth(title)))
}

// writeJSON 缩进输出 JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// formatDuration 格式化时长
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d.Nanoseconds())/1e6)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// formatNumber 格式化数字（添加千位分隔符）
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(char)
	}
	return result.String()
}

// formatTime 格式化时间，当天只显示时分秒
func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	t = t.In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04:05")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 02 15:04")
	}
	return t.Format("2006-01-02 15:04")
}

// maskSecret 只保留凭据首尾字符
func maskSecret(s string) string {
	switch n := len(s); {
	case n == 0:
		return ""
	case n <= 8:
		return strings.Repeat("*", n)
	default:
		return s[:3] + strings.Repeat("*", n-6) + s[n-3:]
	}
}

// truncate 按显示宽度截断，兼容中日韩字符
func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, width, "...")
}
