// Package dedupe provides a bounded, time-limited set of claimed keys. The
// gateway uses it to make CAPTCHA response tokens single-use.
package dedupe
