package typist

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// Injector delivers individual key events to the focused window.
type Injector interface {
	TypeRune(r rune) error
	Backspace() error
}

// KeybdInjector types through synthetic key events. Plain ASCII goes out as
// direct key presses; anything without a simple keycode mapping falls back
// to a clipboard paste that backs up and restores the user's clipboard.
type KeybdInjector struct {
	kb keybd_event.KeyBonding
}

func NewKeybdInjector() (*KeybdInjector, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("init key bonding: %w", err)
	}
	return &KeybdInjector{kb: kb}, nil
}

func (k *KeybdInjector) TypeRune(r rune) error {
	if code, shift, ok := keyCode(r); ok {
		k.kb.Clear()
		k.kb.HasSHIFT(shift)
		k.kb.SetKeys(code)
		if err := k.kb.Launching(); err != nil {
			return fmt.Errorf("key press %q: %w", r, err)
		}
		return nil
	}
	return k.paste(string(r))
}

func (k *KeybdInjector) Backspace() error {
	k.kb.Clear()
	k.kb.HasSHIFT(false)
	k.kb.SetKeys(keybd_event.VK_BACKSPACE)
	if err := k.kb.Launching(); err != nil {
		return fmt.Errorf("backspace: %w", err)
	}
	return nil
}

// paste routes a rune with no keycode mapping through the clipboard with
// Ctrl+V, restoring the previous clipboard contents afterwards.
func (k *KeybdInjector) paste(text string) error {
	orig, _ := clipboard.ReadAll()
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	time.Sleep(20 * time.Millisecond)

	k.kb.Clear()
	k.kb.HasCTRL(true)
	k.kb.SetKeys(keybd_event.VK_V)
	err := k.kb.Launching()
	k.kb.HasCTRL(false)

	time.Sleep(20 * time.Millisecond)
	_ = clipboard.WriteAll(orig)

	if err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	return nil
}

// keyCode maps a rune to a virtual keycode plus shift state. Only the
// unambiguous cross-platform subset is mapped; the rest pastes.
func keyCode(r rune) (int, bool, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return letterCodes[r-'a'], false, true
	case r >= 'A' && r <= 'Z':
		return letterCodes[r-'A'], true, true
	case r >= '0' && r <= '9':
		return digitCodes[r-'0'], false, true
	}
	switch r {
	case ' ':
		return keybd_event.VK_SPACE, false, true
	case '\n':
		return keybd_event.VK_ENTER, false, true
	case '\t':
		return keybd_event.VK_TAB, false, true
	case '.':
		return keybd_event.VK_DOT, false, true
	case ',':
		return keybd_event.VK_COMMA, false, true
	case '-':
		return keybd_event.VK_MINUS, false, true
	}
	return 0, false, false
}

var letterCodes = [26]int{
	keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D,
	keybd_event.VK_E, keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H,
	keybd_event.VK_I, keybd_event.VK_J, keybd_event.VK_K, keybd_event.VK_L,
	keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O, keybd_event.VK_P,
	keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
	keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X,
	keybd_event.VK_Y, keybd_event.VK_Z,
}

var digitCodes = [10]int{
	keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3,
	keybd_event.VK_4, keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7,
	keybd_event.VK_8, keybd_event.VK_9,
}
