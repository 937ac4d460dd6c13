package lyric

import "testing"

func TestParse(t *testing.T) {
	l := Parse("[ti:Song]\n[00:00.00] 作曲 : 周杰伦\r\n[00:01.00] 作词 : 周杰伦\nno tag\n[01:30][01:10][01:00]再等直至再吻到你\n")
	if len(l.Lines) != 5 {
		t.Fatalf("expected 5 lines, got %#v", l.Lines)
	}
	if l.Lines[0].TimeMS != 0 || l.Lines[0].Text != " 作曲 : 周杰伦" {
		t.Fatalf("unexpected first line %#v", l.Lines[0])
	}
	last := l.Lines[len(l.Lines)-1]
	if last.TimeMS != 90000 || last.Text != "再等直至再吻到你" {
		t.Fatalf("unexpected last line %#v", last)
	}
}

func TestParseTime(t *testing.T) {
	tests := map[string]int64{
		"00:01.50": 1500,
		"01:02":    62000,
		"00:03:25": 3250,
		"7":        7000,
	}
	for in, want := range tests {
		got, ok := parseTime(in)
		if !ok || got != want {
			t.Fatalf("%s: expected %d, got %d %v", in, want, got, ok)
		}
	}
}

func TestIndex(t *testing.T) {
	l := Parse("[00:01.00]a\n[00:02.00]b\n[00:04.00]c\n")
	tests := []struct {
		pos  int64
		want int
	}{
		{0, -1},
		{650, 0},
		{1900, 1},
		{3000, 1},
		{3650, 2},
		{60000, 2},
	}
	for _, tt := range tests {
		if got := l.Index(tt.pos); got != tt.want {
			t.Fatalf("pos %d: expected %d, got %d", tt.pos, tt.want, got)
		}
	}
}

func TestTrackerReportsChanges(t *testing.T) {
	tr := NewTracker()
	if _, changed := tr.Update(1000); changed {
		t.Fatalf("no lyric should never change")
	}
	tr.Set("[00:01.00]hello\n[00:03.00]world\n", "[00:01.00]你好\n")
	cur, changed := tr.Update(1000)
	if !changed || cur.Text != "hello" || cur.Translation != "你好" {
		t.Fatalf("unexpected %#v %v", cur, changed)
	}
	if _, changed := tr.Update(1500); changed {
		t.Fatalf("same line reported as changed")
	}
	if cur, changed := tr.Update(3000); !changed || cur.Text != "world" {
		t.Fatalf("expected world, got %#v", cur)
	}
	tr.Clear()
	if tr.Current().Text != "" {
		t.Fatalf("expected cleared line")
	}
}
