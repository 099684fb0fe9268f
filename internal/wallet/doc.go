// Package wallet 负责代理钱包的生成、私钥加密、余额刷新与 ENS 查询。
package wallet
