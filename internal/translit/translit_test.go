package translit

import "testing"

func TestToLatin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Љубав", "Ljubav"},
		{"љубав", "ljubav"},
		{"Његош", "Njegoš"},
		{"Џеп", "Džep"},
		{"Ђурђевак", "Đurđevak"},
		{"Ћуприја", "Ćuprija"},
		{"Чачак", "Čačak"},
		{"Жућкаста боја", "Žućkasta boja"},
		{"Пацијент има 38.5 °C", "Pacijent ima 38.5 °C"},
		{"already latin", "already latin"},
		{"", ""},
		// Characters outside the Serbian table are left alone.
		{"Ёлка ы", "Ёlka ы"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := ToLatin(tc.in); got != tc.want {
				t.Errorf("ToLatin(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTableCoversAlphabet(t *testing.T) {
	t.Parallel()

	const upper = "АБВГДЂЕЖЗИЈКЛЉМНЊОПРСТЋУФХЦЧЏШ"
	const lower = "абвгдђежзијклљмнњопрстћуфхцчџш"
	if n := len([]rune(upper)); n != 30 {
		t.Fatalf("upper alphabet has %d letters, want 30", n)
	}
	for _, r := range upper + lower {
		if _, ok := cyrillicToLatin[r]; !ok {
			t.Errorf("missing mapping for %q", r)
		}
	}
	if len(cyrillicToLatin) != 60 {
		t.Errorf("table has %d entries, want 60", len(cyrillicToLatin))
	}
}
