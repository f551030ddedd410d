package loans

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

type Encoding string

const (
	EncodingUTF8 Encoding = "utf8"
	EncodingGBK  Encoding = "gbk"
)

var exportHeader = []string{
	"ID", "用户ID", "ISBN", "书名", "状态", "借阅时间", "应还日期", "归还时间", "归还方式", "提醒次数", "是否逾期",
}

// WriteCSV は貸出一覧を CSV で書き出す。gbk は中国語版 Excel 向け。
func WriteCSV(w io.Writer, items []Loan, now time.Time, enc Encoding) error {
	var out io.Writer = w
	var tw *transform.Writer
	switch enc {
	case EncodingGBK:
		// GBK にない文字（絵文字など）は置換文字にして出力を止めない
		tw = transform.NewWriter(w, encoding.ReplaceUnsupported(simplifiedchinese.GBK.NewEncoder()))
		out = tw
	case EncodingUTF8, "":
		// Excel が UTF-8 と認識できるよう BOM を付ける
		if _, err := io.WriteString(w, "\uFEFF"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported encoding: %s", enc)
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, l := range items {
		if err := cw.Write(exportRow(l, now)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}

func exportRow(l Loan, now time.Time) []string {
	const layout = "2006-01-02 15:04"
	returned, method := "", ""
	if l.ReturnedAt.Valid {
		returned = l.ReturnedAt.Time.Format(layout)
	}
	if l.ReturnMethod.Valid {
		method = l.ReturnMethod.String
	}
	overdue := "否"
	if IsOverdue(l, now) {
		overdue = "是"
	}
	return []string{
		strconv.FormatInt(l.ID, 10),
		strconv.FormatInt(l.UserID, 10),
		l.BookISBN,
		l.BookTitle,
		string(l.Status),
		l.BorrowedAt.Format(layout),
		l.DueDate.Format("2006-01-02"),
		returned,
		method,
		strconv.Itoa(l.RemindCount),
		overdue,
	}
}
