/*
Package markov provides the text model behind a Markov reply bot: a lossless
word-part tokenizer, an n-gram chain built over normalized windows, and a
reply planner that prefers continuing something the user said.

A Chain is built once from a tokenized corpus and is read-only afterwards. An
Engine holds the chain in service and swaps in a rebuilt one atomically, so
replies never observe a half-built model. Chains can be exported as JSON or
persisted in a SQLite database through a Store.
*/
package markov
