package ladderpresenter

import "strings"

// 카카오톡은 긴 메시지를 접어서 보여준다. 제목 뒤에 제로폭 문자를 채우면
// 본문이 '전체보기' 아래로 내려간다.
const (
	seeMorePadding = 500
	zeroWidthSpace = "\u200b"
)

// foldBelow keeps title visible and pushes lines behind the see-more fold.
func foldBelow(title string, lines []string) string {
	title = strings.TrimSpace(title)
	body := strings.Join(lines, "\n")
	if strings.TrimSpace(body) == "" {
		return title
	}

	var b strings.Builder
	b.Grow(len(title) + seeMorePadding*len(zeroWidthSpace) + len(body) + 1)
	b.WriteString(title)
	b.WriteString(strings.Repeat(zeroWidthSpace, seeMorePadding))
	b.WriteByte('\n')
	b.WriteString(body)
	return b.String()
}
