// Package tools 提供代理可调用的工具：表达式计算、PDF 读取与网页读取。
//
// 所有读取器都以 Result{Success:false, Error} 的形式报告失败，不会将错误抛出服务边界。
package tools
