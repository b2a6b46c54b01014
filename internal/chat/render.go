package chat

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/kalambet/shopchat/internal/search"
	"github.com/kalambet/shopchat/internal/session"
)

// Bot copy shown to users.
const (
	Greeting     = "Xin chào! Mình là trợ lý VietChoice. Bạn có thể nhập tên sản phẩm, quét mã vạch hoặc tải ảnh bao bì để tra cứu thông tin sản phẩm."
	ChatFallback = "Mình chỉ hỗ trợ sản phẩm thôi, bạn thử nhập cụ thể hơn nhé."
	Apology      = "Xin lỗi, hiện không thể tìm kiếm. Vui lòng thử lại sau."

	foundFormat   = "Mình đã tìm thấy %d sản phẩm phù hợp với từ khóa \"%s\":"
	noMatchFormat = "Mình chưa tìm thấy sản phẩm nào khớp với \"%s\". Bạn thử mô tả cụ thể hơn nhé!"
)

// Sentiment thresholds on Positive_Percent.
const (
	positiveThreshold = 75
	neutralThreshold  = 40
)

var vnd = message.NewPrinter(language.Vietnamese)

// render turns a classified outcome into the bot text and its product cards.
// userText is the keyword of last resort when the backend echoes no query.
func render(out search.Outcome, userText string) (string, []session.Suggestion) {
	if out.Conversational() {
		if reply := out.ReplyText(); reply != "" {
			return reply, nil
		}
		return ChatFallback, nil
	}

	keyword := out.Keyword()
	if keyword == "" {
		keyword = strings.TrimSpace(userText)
	}
	if len(out.Items) == 0 {
		return fmt.Sprintf(noMatchFormat, keyword), nil
	}

	cards := make([]session.Suggestion, 0, len(out.Items))
	for _, p := range out.Items {
		cards = append(cards, suggestion(p))
	}
	return fmt.Sprintf(foundFormat, out.ItemCount, keyword), cards
}

// suggestion maps a catalog product onto the card shown in the conversation.
func suggestion(p search.Product) session.Suggestion {
	s := session.Suggestion{
		ID:    p.ID,
		Name:  p.Name,
		Image: p.ImageURL,
		Brand: p.Brand,
	}
	if p.Price != nil {
		s.Price = FormatPrice(*p.Price)
	}
	if p.AvgRating != nil {
		s.Rating = *p.AvgRating
	}
	if p.PositivePct != nil {
		s.PositivePercent = *p.PositivePct
		s.Sentiment = sentiment(*p.PositivePct)
	}
	return s
}

// FormatPrice renders a price in Vietnamese locale, e.g. "32.000 đ".
func FormatPrice(v float64) string {
	return vnd.Sprint(number.Decimal(v, number.MaxFractionDigits(3))) + " đ"
}

func sentiment(pos float64) string {
	switch {
	case pos >= positiveThreshold:
		return "positive"
	case pos >= neutralThreshold:
		return "neutral"
	default:
		return "negative"
	}
}
