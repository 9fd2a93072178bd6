package parser

import (
	"strings"
	"testing"
)

const baseURL = "https://zfcg.example.gov.cn"
const detailURL = "https://zfcg.example.gov.cn/maincms-web/articleDetail"

func TestParseResults(t *testing.T) {
	t.Parallel()

	html := `
	<html><body>
	<span>共 7 页</span>
	<table><tbody>
	  <tr><td>区划</td><td>采购方式</td><td>采购单位</td><td>公告标题</td><td>发布时间</td></tr>
	  <tr>
	    <td>福州市</td><td>公开招标</td><td>市立医院</td>
	    <td><a href="/maincms-web/articleDetail?id=a1">医院信息系统采购合同公告</a></td>
	    <td>2026-08-20 10:12:00</td>
	  </tr>
	  <tr>
	    <td>厦门市</td><td></td><td>第二医院</td>
	    <td><a href="https://other.example.com/detail?id=a2">OA系统升级公告</a></td>
	    <td>2026-08-21 09:00:00</td>
	  </tr>
	  <tr>
	    <td>泉州市</td><td>询价</td><td>第三医院</td>
	    <td></td>
	    <td>2026-08-22 08:00:00</td>
	  </tr>
	</tbody></table>
	</body></html>`

	res, err := ParseResults(html, baseURL, detailURL)
	if err != nil {
		t.Fatalf("ParseResults returned error: %v", err)
	}

	if res.TotalPages != 7 {
		t.Fatalf("expected 7 total pages, got %d", res.TotalPages)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
	if res.Skipped != 1 {
		t.Fatalf("expected 1 skipped row, got %d", res.Skipped)
	}

	first := res.Items[0]
	if first.District != "福州市" || first.Unit != "市立医院" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.DetailURL != baseURL+"/maincms-web/articleDetail?id=a1" {
		t.Fatalf("relative link not resolved: %s", first.DetailURL)
	}
	if first.PublishTime != "2026-08-20 10:12:00" {
		t.Fatalf("unexpected publish time: %s", first.PublishTime)
	}

	second := res.Items[1]
	if second.Method != "" {
		t.Fatalf("empty cell should stay empty, got %q", second.Method)
	}
	if !strings.HasPrefix(second.DetailURL, "https://other.example.com") {
		t.Fatalf("absolute link rewritten: %s", second.DetailURL)
	}
}

func TestParseResultsOnclickLink(t *testing.T) {
	t.Parallel()

	html := `
	<table><tbody>
	  <tr>
	    <td>福州市</td><td>公开招标</td><td>市立医院</td>
	    <td onclick="articleDetail('xmgg','id123','plan9','ch1','ggxx')">检验系统采购公告</td>
	    <td>2026-08-23 11:00:00</td>
	  </tr>
	</tbody></table>`

	res, err := ParseResults(html, baseURL, detailURL)
	if err != nil {
		t.Fatalf("ParseResults returned error: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(res.Items))
	}

	link := res.Items[0].DetailURL
	for _, fragment := range []string{"id=id123", "planId=plan9", "type=xmgg", "channel=ch1", "soure=ggxx"} {
		if !strings.Contains(link, fragment) {
			t.Fatalf("link %s missing %s", link, fragment)
		}
	}
}

func TestParseResultsPagerFallback(t *testing.T) {
	t.Parallel()

	html := `
	<ul class="el-pager"><li>1</li><li>2</li><li>3</li></ul>
	<table><tbody></tbody></table>`

	res, err := ParseResults(html, baseURL, detailURL)
	if err != nil {
		t.Fatalf("ParseResults returned error: %v", err)
	}
	if res.TotalPages != 3 {
		t.Fatalf("expected pager fallback to report 3 pages, got %d", res.TotalPages)
	}
	if len(res.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(res.Items))
	}
}

func TestParseResultsEmptyPage(t *testing.T) {
	t.Parallel()

	res, err := ParseResults("<html><body></body></html>", baseURL, detailURL)
	if err != nil {
		t.Fatalf("ParseResults returned error: %v", err)
	}
	if res.TotalPages != 1 {
		t.Fatalf("expected default 1 page, got %d", res.TotalPages)
	}
}
