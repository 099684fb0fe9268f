// Package verifier 通过 GoldRush transaction_v2 接口核对链上交易是否与预期一致。
package verifier
